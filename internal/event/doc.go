// Package event provides a small typed publish/subscribe bus.
//
// Components publish values implementing Event; subscribers register a
// handler per topic. Delivery is synchronous in the publisher's goroutine
// by default, preserving subscription order. A subscription can opt into
// asynchronous delivery with a bounded buffer; events that would block an
// async subscriber are dropped and counted rather than stalling the
// publisher.
package event
