package origin

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/podoskin/agent-core/pkg/models"
)

func TestResolveKnownOrigins(t *testing.T) {
	r := NewRouter(20)

	staff := r.Resolve(models.OriginStaffWeb)
	assert.True(t, staff.AllowMutations)
	assert.True(t, staff.AllowClinicalReads)
	assert.Equal(t, 20, staff.MaxListItems)
	assert.False(t, staff.GreetingEnabled)

	messaging := r.Resolve(models.OriginStaffMessaging)
	assert.True(t, messaging.AllowMutations)
	assert.Equal(t, 5, messaging.MaxListItems)
	assert.True(t, messaging.GreetingEnabled)

	patient := r.Resolve(models.OriginPatientMessaging)
	assert.False(t, patient.AllowMutations)
	assert.False(t, patient.AllowClinicalReads)
}

func TestResolveUnknownOriginFailsClosed(t *testing.T) {
	r := NewRouter(20)

	flow := r.Resolve(models.Origin("partner_api"))

	// Unknown channels get the most restrictive profile.
	assert.Equal(t, models.OriginPatientMessaging, flow.Origin)
	assert.False(t, flow.AllowMutations)
	assert.False(t, flow.AllowClinicalReads)
}
