package index

import "context"

// Mirror duplicates every mutation onto a secondary index so a configured
// fallback holds the same vectors as the primary. Reads and health checks
// go to the primary; the retriever queries the secondary directly when the
// primary is unreachable.
type Mirror struct {
	primary   Index
	secondary Index
}

// NewMirror creates a new Mirror instance
func NewMirror(primary, secondary Index) *Mirror {
	return &Mirror{primary: primary, secondary: secondary}
}

// Backend implements Index.
func (m *Mirror) Backend() string {
	return m.primary.Backend()
}

// Upsert implements Index. The secondary is written only after the primary
// commit succeeds, so a primary failure leaves both stores unchanged.
func (m *Mirror) Upsert(ctx context.Context, records []Record) error {
	if err := m.primary.Upsert(ctx, records); err != nil {
		return err
	}
	return m.secondary.Upsert(ctx, records)
}

// DeleteDocument implements Index.
func (m *Mirror) DeleteDocument(ctx context.Context, documentID string) error {
	if err := m.primary.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	return m.secondary.DeleteDocument(ctx, documentID)
}

// Search implements Index against the primary.
func (m *Mirror) Search(ctx context.Context, q Query) ([]Match, error) {
	return m.primary.Search(ctx, q)
}

// HealthCheck implements Index against the primary.
func (m *Mirror) HealthCheck(ctx context.Context) error {
	return m.primary.HealthCheck(ctx)
}
