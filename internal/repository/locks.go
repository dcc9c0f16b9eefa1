package repository

import (
	"fmt"

	"github.com/noah-isme/sma-results-api/internal/models"
)

// classLockKey is hashed with hashtext() into a Postgres advisory lock id shared by score
// entry, computation and publishing for one class result set.
func classLockKey(scope models.ResultScope) string {
	return fmt.Sprintf("results:%s:%s:%s", scope.TenantID, scope.TermID, scope.ClassID)
}
