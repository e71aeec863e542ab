package engine

// Action is a logical backend action.
type Action string

const (
	ActionCreateMessage     Action = "createMessage"
	ActionUpdateDraft       Action = "updateDraft"
	ActionGetScheduled      Action = "getScheduled"
	ActionCancelScheduled   Action = "cancelScheduled"
	ActionReschedule        Action = "reschedule"
	ActionGetScheduledCount Action = "getScheduledCount"
	ActionGetScheduledEmail Action = "getScheduledEmail"
	ActionGetConfig         Action = "getConfig"
)

// Endpoint maps a logical action to the host's method and the scheduler's.
type Endpoint struct {
	Action     Action
	Original   string
	Redirected string
}

var endpointRegistry = map[Action]Endpoint{
	ActionCreateMessage: {
		Action:     ActionCreateMessage,
		Original:   "mail.api.mail.create_mail",
		Redirected: "mail_scheduler.api.mail.create_mail",
	},
	ActionUpdateDraft: {
		Action:     ActionUpdateDraft,
		Original:   "mail.api.mail.update_draft_mail",
		Redirected: "mail_scheduler.api.mail.update_draft_mail",
	},
	ActionGetScheduled: {
		Action:     ActionGetScheduled,
		Redirected: "mail_scheduler.api.scheduled.get_scheduled_emails",
	},
	ActionCancelScheduled: {
		Action:     ActionCancelScheduled,
		Redirected: "mail_scheduler.api.scheduled.cancel_scheduled_email",
	},
	ActionReschedule: {
		Action:     ActionReschedule,
		Redirected: "mail_scheduler.api.scheduled.reschedule_email",
	},
	ActionGetScheduledCount: {
		Action:     ActionGetScheduledCount,
		Redirected: "mail_scheduler.api.scheduled.get_scheduled_count",
	},
	ActionGetScheduledEmail: {
		Action:     ActionGetScheduledEmail,
		Redirected: "mail_scheduler.api.scheduled.get_scheduled_email",
	},
	ActionGetConfig: {
		Action:     ActionGetConfig,
		Redirected: "mail_scheduler.api.scheduled.get_scheduler_config",
	},
}

// sendNowActions are the only host actions eligible for rewriting.
var sendNowActions = []Action{ActionCreateMessage, ActionUpdateDraft}

// LookupEndpoint returns the registry entry for an action.
func LookupEndpoint(action Action) (Endpoint, bool) {
	ep, ok := endpointRegistry[action]
	return ep, ok
}

// Endpoints returns a copy of the registry.
func Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(endpointRegistry))
	for _, ep := range endpointRegistry {
		out = append(out, ep)
	}
	return out
}

// MethodFor returns the redirected method name for an action.
func MethodFor(action Action) string {
	return endpointRegistry[action].Redirected
}

// matchSendNow resolves a host method to its send-now endpoint.
func matchSendNow(method string) (Endpoint, bool) {
	if method == "" {
		return Endpoint{}, false
	}
	for _, action := range sendNowActions {
		ep := endpointRegistry[action]
		if ep.Original == method {
			return ep, true
		}
	}
	return Endpoint{}, false
}
