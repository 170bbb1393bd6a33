package memory

import (
	"encoding/json"
	"fmt"

	"github.com/antigravity-dev/taskmind/internal/vectorstore"
)

func encodeArch(a *ArchitectureItem) (vectorstore.Record, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return vectorstore.Record{}, fmt.Errorf("memory: marshal architecture %s: %w", a.Slug, err)
	}
	return vectorstore.Record{
		ID:         a.ID,
		Namespace:  a.Namespace,
		SearchText: a.SearchText(),
		Data:       data,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}, nil
}

func decodeArch(rec vectorstore.Record) (*ArchitectureItem, error) {
	var a ArchitectureItem
	if err := json.Unmarshal(rec.Data, &a); err != nil {
		return nil, fmt.Errorf("memory: unmarshal architecture %s: %w", rec.ID, err)
	}
	return &a, nil
}

func decodeAllArch(recs []vectorstore.Record) ([]*ArchitectureItem, error) {
	out := make([]*ArchitectureItem, 0, len(recs))
	for _, rec := range recs {
		a, err := decodeArch(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func encodeTrouble(t *TroubleshootItem) (vectorstore.Record, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return vectorstore.Record{}, fmt.Errorf("memory: marshal troubleshoot %s: %w", t.Slug, err)
	}
	return vectorstore.Record{
		ID:         t.ID,
		Namespace:  t.Namespace,
		SearchText: t.SearchText(),
		Data:       data,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}, nil
}

func decodeTrouble(rec vectorstore.Record) (*TroubleshootItem, error) {
	var t TroubleshootItem
	if err := json.Unmarshal(rec.Data, &t); err != nil {
		return nil, fmt.Errorf("memory: unmarshal troubleshoot %s: %w", rec.ID, err)
	}
	return &t, nil
}

func decodeAllTrouble(recs []vectorstore.Record) ([]*TroubleshootItem, error) {
	out := make([]*TroubleshootItem, 0, len(recs))
	for _, rec := range recs {
		t, err := decodeTrouble(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
