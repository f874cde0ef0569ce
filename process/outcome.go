package process

import "github.com/quarrylabs/quarry/store"

// Status classifies what processing one item did.
type Status string

const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome reports the result of processing one item.
type Outcome struct {
	Status Status
	Entity *store.Entity
	Reason string
}

func skipped(reason string) *Outcome {
	return &Outcome{Status: StatusSkipped, Reason: reason}
}

func failed(reason string) *Outcome {
	return &Outcome{Status: StatusFailed, Reason: reason}
}
