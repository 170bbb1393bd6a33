package workitem

import (
	"encoding/json"
	"fmt"

	"github.com/antigravity-dev/taskmind/internal/vectorstore"
)

func encode(w *WorkItem) (vectorstore.Record, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return vectorstore.Record{}, fmt.Errorf("workitem: marshal %s: %w", w.ID, err)
	}
	return vectorstore.Record{
		ID:         w.ID,
		Namespace:  w.Namespace,
		SearchText: w.SearchText(),
		Data:       data,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}, nil
}

func decode(rec vectorstore.Record) (*WorkItem, error) {
	var w WorkItem
	if err := json.Unmarshal(rec.Data, &w); err != nil {
		return nil, fmt.Errorf("workitem: unmarshal %s: %w", rec.ID, err)
	}
	return &w, nil
}

func decodeAll(recs []vectorstore.Record) ([]*WorkItem, error) {
	out := make([]*WorkItem, 0, len(recs))
	for _, rec := range recs {
		w, err := decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
