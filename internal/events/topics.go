package events

// Topic constants for events consumed by order reconciliation.
const (
	TopicCheckoutIntentCreated = "checkout.intent_created"
	TopicCheckoutCompleted     = "checkout.completed"
	TopicOfferCharged          = "funnel.offer_charged"
	TopicOfferFailed           = "funnel.offer_failed"
)

// DefaultTopics returns every topic the funnel emits.
func DefaultTopics() []string {
	return []string{
		TopicCheckoutIntentCreated,
		TopicCheckoutCompleted,
		TopicOfferCharged,
		TopicOfferFailed,
	}
}
