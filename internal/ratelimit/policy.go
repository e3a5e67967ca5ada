package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

type Class string

const (
	ClassPayments      Class = "payments"
	ClassMessaging     Class = "messaging"
	ClassOAuthCallback Class = "oauth_callback"
	ClassSignup        Class = "signup"
	ClassLogin         Class = "login"
	ClassDefault       Class = "default"
)

func (c Class) String() string { return string(c) }

// Exceed is how a route answers a caller that is over its limit.
type Exceed int

const (
	// ExceedRetryable answers 429 with Retry-After.
	ExceedRetryable Exceed = iota
	// ExceedSuccessShaped answers 200 so the sender does not escalate
	// retries or disable the subscription.
	ExceedSuccessShaped
	// ExceedFriendly answers 429 with a human readable page and no numbers.
	ExceedFriendly
)

func (e Exceed) String() string {
	switch e {
	case ExceedRetryable:
		return "retryable"
	case ExceedSuccessShaped:
		return "success_shaped"
	case ExceedFriendly:
		return "friendly"
	default:
		return fmt.Sprintf("exceed(%d)", int(e))
	}
}

// Rule admits at most Limit requests per fixed Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) String() string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

type ClassPolicy struct {
	Rules  []Rule
	Exceed Exceed
}

type Policy map[Class]ClassPolicy

var ErrInvalidRule = errors.New("invalid rate limit rule")

// DefaultPolicy is the production limit table. Payments carry no limit so
// the payments provider never has deliveries dropped by throttling.
func DefaultPolicy() Policy {
	return Policy{
		ClassPayments: {
			Exceed: ExceedRetryable,
		},
		ClassMessaging: {
			Rules:  []Rule{{Limit: 150, Window: time.Minute}},
			Exceed: ExceedSuccessShaped,
		},
		ClassOAuthCallback: {
			Rules:  []Rule{{Limit: 20, Window: time.Hour}},
			Exceed: ExceedFriendly,
		},
		ClassSignup: {
			Rules:  []Rule{{Limit: 10, Window: 5 * time.Minute}},
			Exceed: ExceedFriendly,
		},
		ClassLogin: {
			Rules:  []Rule{{Limit: 10, Window: time.Minute}},
			Exceed: ExceedFriendly,
		},
		ClassDefault: {
			Rules: []Rule{
				{Limit: 100, Window: time.Hour},
				{Limit: 400, Window: 24 * time.Hour},
			},
			Exceed: ExceedFriendly,
		},
	}
}

// Resolve returns the policy for class, falling back to ClassDefault for
// classes the table does not name.
func (p Policy) Resolve(class Class) (Class, ClassPolicy) {
	if cp, ok := p[class]; ok {
		return class, cp
	}
	return ClassDefault, p[ClassDefault]
}

func (p Policy) Validate() error {
	for class, cp := range p {
		for _, r := range cp.Rules {
			if r.Limit <= 0 || r.Window < time.Millisecond {
				return fmt.Errorf("%w: class %s rule %s", ErrInvalidRule, class, r)
			}
		}
	}
	return nil
}
