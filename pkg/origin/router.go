// Package origin selects a flow configuration from the channel a message
// arrived through. The routing table is built once at startup and passed by
// reference; it is never mutated after construction.
package origin

import "github.com/podoskin/agent-core/pkg/models"

// FlowConfig is the per-channel policy the rest of the pipeline consults.
type FlowConfig struct {
	Origin models.Origin

	// AllowMutations gates create/update/status-change intents at the
	// channel level, before any role check runs.
	AllowMutations bool

	// AllowClinicalReads gates read access to clinical resources at the
	// channel level. Patient messaging never sees clinical records even
	// for staff accounts replying from a patient device.
	AllowClinicalReads bool

	// MaxListItems caps list responses for the channel. Messaging channels
	// render poorly past a handful of rows.
	MaxListItems int

	// GreetingEnabled controls whether bare greetings get a canned reply
	// instead of a classifier call.
	GreetingEnabled bool
}

// Router maps origins to their flow configurations. Unknown origins fail
// closed to the patient-messaging configuration, the most restrictive one.
type Router struct {
	table    map[models.Origin]FlowConfig
	fallback FlowConfig
}

// NewRouter builds the fixed routing table. maxListItems applies to the
// staff web channel; messaging channels are capped lower.
func NewRouter(maxListItems int) *Router {
	const messagingListCap = 5

	patientMessaging := FlowConfig{
		Origin:             models.OriginPatientMessaging,
		AllowMutations:     false,
		AllowClinicalReads: false,
		MaxListItems:       messagingListCap,
		GreetingEnabled:    true,
	}

	table := map[models.Origin]FlowConfig{
		models.OriginStaffWeb: {
			Origin:             models.OriginStaffWeb,
			AllowMutations:     true,
			AllowClinicalReads: true,
			MaxListItems:       maxListItems,
			GreetingEnabled:    false,
		},
		models.OriginStaffMessaging: {
			Origin:             models.OriginStaffMessaging,
			AllowMutations:     true,
			AllowClinicalReads: true,
			MaxListItems:       messagingListCap,
			GreetingEnabled:    true,
		},
		models.OriginPatientMessaging: patientMessaging,
	}

	return &Router{table: table, fallback: patientMessaging}
}

// Resolve returns the flow configuration for the given origin. Unrecognized
// origins get the fallback configuration.
func (r *Router) Resolve(o models.Origin) FlowConfig {
	if cfg, ok := r.table[o]; ok {
		return cfg
	}
	return r.fallback
}
