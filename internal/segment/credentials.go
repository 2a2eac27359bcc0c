package segment

import (
	"encoding/base64"

	"github.com/shortontech/gosegment/internal/event"
)

// Keys looked up in the credential map handed over by the host.
const (
	KeyProjectID = "segment_project_id"
	KeyWriteKey  = "segment_write_key"
)

// Credentials is the validated, read-only view of a credential map.
type Credentials struct {
	projectID string
	writeKey  string
}

// NewCredentials checks that both required keys are present, project id
// first. Presence is what counts: an empty value is accepted as given.
func NewCredentials(d event.Dict) (Credentials, error) {
	projectID, ok := d.Get(KeyProjectID)
	if !ok {
		return Credentials{}, invalid(ReasonMissingCredential, "Segment project id is required")
	}
	writeKey, ok := d.Get(KeyWriteKey)
	if !ok {
		return Credentials{}, invalid(ReasonMissingCredential, "Segment write key is required")
	}
	return Credentials{projectID: projectID, writeKey: writeKey}, nil
}

func (c Credentials) ProjectID() string { return c.projectID }
func (c Credentials) WriteKey() string  { return c.writeKey }

// Authorization is the HTTP Basic value Segment expects: the write key as
// user name and an empty password.
func (c Credentials) Authorization() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.writeKey+":"))
}
