package env

import "fmt"

// Environment selects production guards: signature bypass is refused and
// per-process limiter state draws a warning.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

func (e Environment) IsDevelopment() bool { return e == Development }
func (e Environment) IsProduction() bool  { return e == Production }

func (e Environment) Validate() error {
	switch e {
	case Development, Production:
		return nil
	default:
		return fmt.Errorf("ENV must be %s or %s, got %q", Development, Production, e)
	}
}
