package domain

import (
	"strconv"
	"strings"
)

// ApplicationType names one of the three application kinds a message can be
// attached to.
type ApplicationType string

const (
	ApplicationInscription ApplicationType = "inscription"
	ApplicationWorkPermit  ApplicationType = "work_permit"
	ApplicationResidence   ApplicationType = "residence"
)

var ApplicationTypes = []ApplicationType{ApplicationInscription, ApplicationWorkPermit, ApplicationResidence}

func (t ApplicationType) Valid() bool {
	switch t {
	case ApplicationInscription, ApplicationWorkPermit, ApplicationResidence:
		return true
	}
	return false
}

// ApplicationContext ties a message to one application record.
type ApplicationContext struct {
	Type ApplicationType `json:"type"`
	ID   int64           `json:"id"`
}

func (c ApplicationContext) Valid() bool {
	return c.Type.Valid() && c.ID > 0
}

// ParseApplicationContext reads a context from raw request values. Anything
// unrecognised yields nil, which callers treat as "no context filter".
func ParseApplicationContext(appType, appID string) *ApplicationContext {
	appType = strings.TrimSpace(appType)
	appID = strings.TrimSpace(appID)
	if appType == "" || appID == "" {
		return nil
	}

	id, err := strconv.ParseInt(appID, 10, 64)
	if err != nil {
		return nil
	}

	c := ApplicationContext{Type: ApplicationType(appType), ID: id}
	if !c.Valid() {
		return nil
	}
	return &c
}
