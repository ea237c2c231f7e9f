package folder

import (
	"testing"

	"mailsync_server/core/domain"
)

// TestClassifyExactNames tests the highest-priority exact name table.
func TestClassifyExactNames(t *testing.T) {
	tests := []struct {
		name          string
		rawName       string
		wantCanonical domain.CanonicalFolder
	}{
		{"English inbox", "Inbox", domain.FolderInbox},
		{"Korean inbox", "받은편지함", domain.FolderInbox},
		{"Outlook sent items", "Sent Items", domain.FolderSent},
		{"Korean sent", "보낸편지함", domain.FolderSent},
		{"Outlook junk", "Junk E-mail", domain.FolderSpam},
		{"French spam", "Courrier indésirable", domain.FolderSpam},
		{"Outlook deleted", "Deleted Items", domain.FolderTrash},
		{"Korean trash", "휴지통", domain.FolderTrash},
		{"Gmail all mail", "All Mail", domain.FolderArchive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.rawName, domain.FolderHints{})

			if got.Canonical != tt.wantCanonical {
				t.Errorf("Classify(%q) canonical = %v, want %v", tt.rawName, got.Canonical, tt.wantCanonical)
			}
			if got.Confidence < domain.FolderConfidenceThreshold {
				t.Errorf("Classify(%q) confidence = %v, want >= %v", tt.rawName, got.Confidence, domain.FolderConfidenceThreshold)
			}
			if got.NeedsReview {
				t.Errorf("Classify(%q) needsReview = true, want false", tt.rawName)
			}
		})
	}
}

// TestClassifySubstringBeatsHints verifies rule priority: a substring
// match wins over a contradicting special-use hint.
func TestClassifySubstringBeatsHints(t *testing.T) {
	got := Classify("Old Sent Stuff", domain.FolderHints{SpecialUse: "\\Trash"})

	if got.Canonical != domain.FolderSent {
		t.Errorf("canonical = %v, want %v", got.Canonical, domain.FolderSent)
	}
}

// TestClassifySpecialUseHints tests fallback to provider hints when the
// name itself carries no signal.
func TestClassifySpecialUseHints(t *testing.T) {
	tests := []struct {
		name          string
		rawName       string
		specialUse    string
		wantCanonical domain.CanonicalFolder
	}{
		{"IMAP special-use sent", "Wysłane", "\\Sent", domain.FolderSent},
		{"IMAP special-use junk", "Nevyžádaná pošta", "\\Junk", domain.FolderSpam},
		{"Graph wellKnownName", "Postmapje", "deleteditems", domain.FolderTrash},
		{"Gmail system label", "무제", "SPAM", domain.FolderSpam},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.rawName, domain.FolderHints{SpecialUse: tt.specialUse, System: true})

			if got.Canonical != tt.wantCanonical {
				t.Errorf("Classify(%q, %q) canonical = %v, want %v", tt.rawName, tt.specialUse, got.Canonical, tt.wantCanonical)
			}
			if got.NeedsReview {
				t.Errorf("Classify(%q, %q) needsReview = true, want false", tt.rawName, tt.specialUse)
			}
		})
	}
}

// TestClassifyConfidenceThreshold pins the review cut-off behavior on
// both sides of the threshold.
func TestClassifyConfidenceThreshold(t *testing.T) {
	// 약한 신호 (backup → archive, 0.55): 임계값 미달
	weak := Classify("Backup 2019", domain.FolderHints{})
	if weak.Confidence >= domain.FolderConfidenceThreshold {
		t.Fatalf("weak match confidence = %v, want < %v", weak.Confidence, domain.FolderConfidenceThreshold)
	}
	if !weak.NeedsReview {
		t.Error("weak match needsReview = false, want true")
	}

	// 강한 신호 (sent substring, 0.70): 임계값 이상
	strong := Classify("My Sent Copies", domain.FolderHints{})
	if strong.Confidence < domain.FolderConfidenceThreshold {
		t.Fatalf("strong match confidence = %v, want >= %v", strong.Confidence, domain.FolderConfidenceThreshold)
	}
	if strong.NeedsReview {
		t.Error("strong match needsReview = true, want false")
	}
}

// TestClassifyUnknown ensures unmatched names fall to other and stay
// disabled until confirmed.
func TestClassifyUnknown(t *testing.T) {
	got := Classify("Promotions", domain.FolderHints{})

	if got.Canonical != domain.FolderOther {
		t.Errorf("canonical = %v, want %v", got.Canonical, domain.FolderOther)
	}
	if !got.NeedsReview {
		t.Error("needsReview = false, want true")
	}
}
