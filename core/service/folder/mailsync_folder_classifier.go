// Package folder implements provider folder discovery and the canonical
// category classifier.
package folder

import (
	"strings"

	"mailsync_server/core/domain"
)

// =============================================================================
// Folder Classifier - 우선순위 룰 테이블 (exact > substring > hints)
// =============================================================================

// Confidence tiers per rule class. Anything below
// domain.FolderConfidenceThreshold comes back needs_review.
const (
	confidenceExact         = 0.95
	confidenceSpecialUse    = 0.85
	confidenceSubstring     = 0.70
	confidenceWeakSubstring = 0.55
	confidenceUnknown       = 0.20
)

// exactNames maps normalized provider folder names to categories.
// Covers the locales we actually see in production mailboxes.
var exactNames = map[string]domain.CanonicalFolder{
	// Inbox
	"inbox":                domain.FolderInbox,
	"받은편지함":                domain.FolderInbox,
	"받은 편지함":               domain.FolderInbox,
	"posteingang":          domain.FolderInbox,
	"boîte de réception":   domain.FolderInbox,
	"bandeja de entrada":   domain.FolderInbox,
	"posta in arrivo":      domain.FolderInbox,
	"受信トレイ":                domain.FolderInbox,

	// Sent
	"sent":         domain.FolderSent,
	"sent items":   domain.FolderSent,
	"sent mail":    domain.FolderSent,
	"sent messages": domain.FolderSent,
	"보낸편지함":        domain.FolderSent,
	"보낸 편지함":       domain.FolderSent,
	"gesendet":     domain.FolderSent,
	"gesendete elemente": domain.FolderSent,
	"envoyés":      domain.FolderSent,
	"éléments envoyés": domain.FolderSent,
	"enviados":     domain.FolderSent,
	"送信済みメール":      domain.FolderSent,

	// Spam
	"spam":                 domain.FolderSpam,
	"junk":                 domain.FolderSpam,
	"junk email":           domain.FolderSpam,
	"junk e-mail":          domain.FolderSpam,
	"스팸":                   domain.FolderSpam,
	"스팸메일함":                domain.FolderSpam,
	"courrier indésirable": domain.FolderSpam,
	"correo no deseado":    domain.FolderSpam,
	"迷惑メール":                domain.FolderSpam,

	// Trash
	"trash":             domain.FolderTrash,
	"bin":               domain.FolderTrash,
	"deleted items":     domain.FolderTrash,
	"deleted messages":  domain.FolderTrash,
	"휴지통":               domain.FolderTrash,
	"papierkorb":        domain.FolderTrash,
	"corbeille":         domain.FolderTrash,
	"papelera":          domain.FolderTrash,
	"ゴミ箱":               domain.FolderTrash,

	// Archive
	"archive":  domain.FolderArchive,
	"archives": domain.FolderArchive,
	"all mail": domain.FolderArchive,
	"보관함":      domain.FolderArchive,
	"보관 처리됨":   domain.FolderArchive,
	"archiv":   domain.FolderArchive,
	"アーカイブ":    domain.FolderArchive,
}

// substringRules are checked in order; first match wins.
type substringRule struct {
	token      string
	canonical  domain.CanonicalFolder
	confidence float64
}

var substringRules = []substringRule{
	{"inbox", domain.FolderInbox, confidenceSubstring},
	{"받은", domain.FolderInbox, confidenceSubstring},
	{"sent", domain.FolderSent, confidenceSubstring},
	{"보낸", domain.FolderSent, confidenceSubstring},
	{"outgoing", domain.FolderSent, confidenceSubstring},
	{"spam", domain.FolderSpam, confidenceSubstring},
	{"junk", domain.FolderSpam, confidenceSubstring},
	{"trash", domain.FolderTrash, confidenceSubstring},
	{"deleted", domain.FolderTrash, confidenceSubstring},
	{"휴지", domain.FolderTrash, confidenceSubstring},
	{"archive", domain.FolderArchive, confidenceSubstring},
	{"보관", domain.FolderArchive, confidenceSubstring},

	// 약한 신호: 임계값 미달이라 needs_review로 떨어짐
	{"backup", domain.FolderArchive, confidenceWeakSubstring},
	{"old", domain.FolderArchive, confidenceWeakSubstring},
	{"저장", domain.FolderArchive, confidenceWeakSubstring},
}

// specialUseHints maps provider special-use markers: RFC 6154
// attributes, Graph wellKnownName values, Gmail system label ids.
var specialUseHints = map[string]domain.CanonicalFolder{
	// RFC 6154 (IMAP relay)
	"\\inbox":   domain.FolderInbox,
	"\\sent":    domain.FolderSent,
	"\\junk":    domain.FolderSpam,
	"\\trash":   domain.FolderTrash,
	"\\archive": domain.FolderArchive,
	"\\all":     domain.FolderArchive,

	// Graph wellKnownName
	"sentitems":    domain.FolderSent,
	"junkemail":    domain.FolderSpam,
	"deleteditems": domain.FolderTrash,

	// Gmail system labels
	"INBOX": domain.FolderInbox,
	"SENT":  domain.FolderSent,
	"SPAM":  domain.FolderSpam,
	"TRASH": domain.FolderTrash,
}

// Classify maps a provider folder name onto the canonical category set.
// Pure function: no I/O, deterministic for a given input.
func Classify(rawName string, hints domain.FolderHints) domain.Classification {
	normalized := strings.ToLower(strings.TrimSpace(rawName))

	// 1. Exact known names
	if canonical, ok := exactNames[normalized]; ok {
		return result(canonical, confidenceExact)
	}

	// 2. Substring heuristics
	for _, rule := range substringRules {
		if strings.Contains(normalized, rule.token) {
			return result(rule.canonical, rule.confidence)
		}
	}

	// 3. Provider special-use hints
	if hints.SpecialUse != "" {
		if canonical, ok := specialUseHints[hints.SpecialUse]; ok {
			return result(canonical, confidenceSpecialUse)
		}
		if canonical, ok := specialUseHints[strings.ToLower(hints.SpecialUse)]; ok {
			return result(canonical, confidenceSpecialUse)
		}
	}

	// 분류 실패: other, 수동 확인 대상
	return result(domain.FolderOther, confidenceUnknown)
}

func result(canonical domain.CanonicalFolder, confidence float64) domain.Classification {
	return domain.Classification{
		Canonical:   canonical,
		Confidence:  confidence,
		NeedsReview: confidence < domain.FolderConfidenceThreshold,
	}
}
