package extract

import (
	"regexp"
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

var wordPattern = regexp.MustCompile(`[A-Za-z][A-Za-z'\-]*`)

// entityKeywords maps singular keywords to the entity they address.
var entityKeywords = map[string]models.Entity{
	"exchange": models.EntityExchanges,
	"deal":     models.EntityExchanges,
	"case":     models.EntityExchanges,
	"task":     models.EntityTasks,
	"todo":     models.EntityTasks,
	"contact":  models.EntityContacts,
	"user":     models.EntityUsers,
	"staff":    models.EntityUsers,
	"employee": models.EntityUsers,
	"document": models.EntityDocuments,
	"file":     models.EntityDocuments,
	"upload":   models.EntityDocuments,
	"message":  models.EntityMessages,
	"chat":     models.EntityMessages,
}

// roleKeywords name people by the role they play on a record. They only decide the
// target when no record keyword appears: "exchanges for client X" is about exchanges.
var roleKeywords = map[string]models.Entity{
	"client":      models.EntityContacts,
	"exchanger":   models.EntityContacts,
	"taxpayer":    models.EntityContacts,
	"coordinator": models.EntityUsers,
	"assignee":    models.EntityUsers,
}

// DetectEntity returns the entity named earliest in the text, preferring explicit
// record keywords over role words.
func DetectEntity(text string) (models.Entity, bool) {
	var role models.Entity
	for _, w := range wordPattern.FindAllString(text, -1) {
		key := inflection.Singular(strings.ToLower(w))
		if e, ok := entityKeywords[key]; ok {
			return e, true
		}
		if e, ok := roleKeywords[key]; ok && role == "" {
			role = e
		}
	}
	return role, role != ""
}

// targetOr returns the detected entity or the fallback.
func targetOr(text string, fallback models.Entity) models.Entity {
	if e, ok := DetectEntity(text); ok {
		return e
	}
	return fallback
}
