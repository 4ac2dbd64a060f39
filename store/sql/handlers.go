package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func syncStateHandlers() repository.ModelHandlers[*syncStateRecord] {
	return repository.ModelHandlers[*syncStateRecord]{
		NewRecord: func() *syncStateRecord {
			return &syncStateRecord{}
		},
		GetID: func(record *syncStateRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *syncStateRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "entity_id"
		},
		GetIdentifierValue: func(record *syncStateRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.EntityID)
		},
	}
}

func syncCycleHandlers() repository.ModelHandlers[*syncCycleRecord] {
	return repository.ModelHandlers[*syncCycleRecord]{
		NewRecord: func() *syncCycleRecord {
			return &syncCycleRecord{}
		},
		GetID: func(record *syncCycleRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *syncCycleRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *syncCycleRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
