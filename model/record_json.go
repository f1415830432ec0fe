package model

import "github.com/goccy/go-json"

type recordFields BranchRecord

type recordJSON struct {
	recordFields
	BlockerType       *BlockerType `json:"blockerType"`
	BlockerRef        *string      `json:"blockerRef"`
	ManuallySetParent *string      `json:"manuallySetParent"`
}

func nullable[T ~string](v T) *T {
	if v == "" {
		return nil
	}
	return &v
}

func deref[T ~string](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

func (r BranchRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		recordFields:      recordFields(r),
		BlockerType:       nullable(r.BlockerType),
		BlockerRef:        nullable(r.BlockerRef),
		ManuallySetParent: nullable(r.ManuallySetParent),
	})
}

func (r *BranchRecord) UnmarshalJSON(data []byte) error {
	var aux recordJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = BranchRecord(aux.recordFields)
	r.BlockerType = deref(aux.BlockerType)
	r.BlockerRef = deref(aux.BlockerRef)
	r.ManuallySetParent = deref(aux.ManuallySetParent)
	return nil
}
