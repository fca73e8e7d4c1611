package observability

import "github.com/prometheus/client_golang/prometheus"

// Outcome label values shared by the domain counters.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeReplayed = "replayed"
	OutcomeError    = "error"
)

var (
	// MessagesSent counts message sends by outcome.
	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Message sends by outcome (ok, rejected, replayed, error).",
		},
		[]string{"outcome"},
	)

	// TokensDebited counts tokens actually removed from user balances.
	TokensDebited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_tokens_debited_total",
		Help: "Tokens debited by message sends.",
	})

	// TokensRefunded counts tokens credited back through report refunds.
	TokensRefunded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_tokens_refunded_total",
		Help: "Tokens credited back by report refunds.",
	})

	// GiftClaims counts spiritual gift claims by outcome.
	GiftClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_gift_claims_total",
			Help: "Spiritual gift claims by outcome (ok, rejected, error).",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(MessagesSent, TokensDebited, TokensRefunded, GiftClaims)
}
