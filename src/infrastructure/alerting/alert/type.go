package alert

// Type is the type of the alert.
// The value will generally be the name of the alert provider
type Type string

const (

	// TypeLog is the Type for the structured-log alerting provider
	TypeLog Type = "log"

	// TypeWebhook is the Type for the HTTP webhook alerting provider
	TypeWebhook Type = "webhook"
)

// Types lists every supported Type in dispatch order.
var Types = []Type{TypeLog, TypeWebhook}
