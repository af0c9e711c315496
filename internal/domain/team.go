package domain

// Team is one entry in the team dictionary. Names are globally unique; the
// reconciler upserts unseen names on sight.
type Team struct {
	ID      int64
	Name    string
	LogoURL string
}
