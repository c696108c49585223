// Package stream fans out anonymised donation events to live subscribers
// (the SSE feed behind the public donation map).
package stream

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Location is an approximate point used for visualisation.
type Location struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Event types.
const (
	EventCreated   = "donation.created"
	EventCompleted = "donation.completed"
	EventFailed    = "donation.failed"
	EventRefunded  = "donation.refunded"
)

// Event carries no donor contact details; Donor is a display name or
// "Anonymous".
type Event struct {
	Type          string          `json:"type"`
	Method        string          `json:"method"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	RecipientID   string          `json:"recipient_id"`
	RecipientName string          `json:"recipient_name,omitempty"`
	Donor         string          `json:"donor"`
	To            Location        `json:"to"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Stream fan-outs events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Subscribers reports the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// slow subscriber, drop
		}
	}
}

var districts = []Location{
	{Name: "Thiruvananthapuram", Lat: 8.5241, Lon: 76.9366},
	{Name: "Kollam", Lat: 8.8932, Lon: 76.6141},
	{Name: "Pathanamthitta", Lat: 9.2648, Lon: 76.7870},
	{Name: "Alappuzha", Lat: 9.4981, Lon: 76.3388},
	{Name: "Kottayam", Lat: 9.5916, Lon: 76.5222},
	{Name: "Idukki", Lat: 9.8494, Lon: 76.9710},
	{Name: "Ernakulam", Lat: 9.9816, Lon: 76.2999},
	{Name: "Thrissur", Lat: 10.5276, Lon: 76.2144},
	{Name: "Palakkad", Lat: 10.7867, Lon: 76.6548},
	{Name: "Malappuram", Lat: 11.0510, Lon: 76.0711},
	{Name: "Kozhikode", Lat: 11.2588, Lon: 75.7804},
	{Name: "Wayanad", Lat: 11.6854, Lon: 76.1320},
	{Name: "Kannur", Lat: 11.8745, Lon: 75.3704},
	{Name: "Kasaragod", Lat: 12.4996, Lon: 74.9869},
}

// LocationFor returns the district centroid, or a location derived
// deterministically from id when the district is unknown.
func LocationFor(district, id string) Location {
	for _, d := range districts {
		if strings.EqualFold(d.Name, strings.TrimSpace(district)) {
			return d
		}
	}
	hash := sha1.Sum([]byte(id))
	val := binary.BigEndian.Uint32(hash[:4])
	return districts[int(val%uint32(len(districts)))]
}
