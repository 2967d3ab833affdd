package model

import "time"

// AccountClaim is the running-job marker for an account. At most one row
// exists per account, which is how the "one running job per account"
// invariant is enforced: claiming is an insert that fails on conflict,
// re-verified at job start rather than only at submission time.
type AccountClaim struct {
	Account   string    `gorm:"primaryKey;size:100"`
	JobID     string    `gorm:"size:36;not null"`
	ClaimedAt time.Time `gorm:"not null"`
}
