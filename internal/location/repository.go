package location

import "context"

// Repository persists locations, aliases and wards.
type Repository interface {
	// Get returns ErrLocationNotFound when id is unknown.
	Get(ctx context.Context, id int64) (*Location, error)

	// Nearest returns the closest location within threshold of (lon, lat),
	// or ErrLocationNotFound.
	Nearest(ctx context.Context, lon, lat, threshold float64) (*Location, error)

	// Create stores loc and sets its ID.
	Create(ctx context.Context, loc *Location) error

	List(ctx context.Context) ([]*Location, error)

	// GetAlias returns ErrAliasNotFound when the code has no alias.
	GetAlias(ctx context.Context, code string) (*Alias, error)

	// ListAliases returns the aliases found for codes. Unknown codes are omitted.
	ListAliases(ctx context.Context, codes []string) ([]*Alias, error)

	// CreateAlias stores alias and sets its ID.
	CreateAlias(ctx context.Context, alias *Alias) error

	ListWards(ctx context.Context) ([]*Ward, error)
}
