package webhook

import "github.com/ignite/contact-sync/internal/domain"

// Classification routes an event to its EmailRecord key and state
// transition. Classify is a pure function: no shared state is carried
// across the events of a batch.
type Classification struct {
	Type domain.EventType
	// RecordKey is the key the event is logged under in the per-message
	// EmailRecord. Clicks synthesize a unique key so bursts never
	// overwrite each other; everything else uses a static name.
	RecordKey string
}

// Classify maps a provider event onto the closed EventType set. Provider
// events with no transition (deliveries, opens, bounces, ...) classify as
// EventUnhandled: no state change, but still logged into the EmailRecord.
func Classify(ev domain.EmailEvent) Classification {
	switch ev.Event {
	case "click":
		return Classification{Type: domain.EventClick, RecordKey: domain.ClickKey()}
	case "group_unsubscribe":
		return Classification{Type: domain.EventGroupUnsubscribe, RecordKey: string(domain.EventGroupUnsubscribe)}
	case "group_resubscribe":
		return Classification{Type: domain.EventGroupResubscribe, RecordKey: string(domain.EventGroupResubscribe)}
	case "unsubscribe":
		return Classification{Type: domain.EventUnsubscribe, RecordKey: string(domain.EventUnsubscribe)}
	case "spamreport":
		return Classification{Type: domain.EventSpamReport, RecordKey: string(domain.EventSpamReport)}
	default:
		key := ev.Event
		if key == "" {
			key = string(domain.EventUnhandled)
		}
		return Classification{Type: domain.EventUnhandled, RecordKey: key}
	}
}
