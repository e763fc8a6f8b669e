package sync

import (
	"fmt"
	"strings"
	"time"

	synxsync "github.com/synaxhq/synax/internal/sync"
)

// View renders the sync TUI.
func (m Model) View() string {
	if m.error != "" {
		return m.styles.Error.Render(fmt.Sprintf("Error: %s\n\nPress q to quit.", m.error))
	}

	if m.result != nil {
		return m.styles.Paragraph.Render(m.resultView(m.result))
	}

	if !m.ready && !m.syncing {
		return fmt.Sprintf("%s %s", m.spinner.View(), m.status)
	}

	if m.syncing {
		var sb strings.Builder
		sb.WriteString(m.styles.Title.Render(fmt.Sprintf("%s Syncing with Synax...", m.spinner.View())))
		sb.WriteString("\n\n")
		sb.WriteString(m.progress.View())
		sb.WriteString("\n")
		sb.WriteString(m.styles.StatusText.Render(m.status))
		sb.WriteString("\n\n")
		sb.WriteString(m.help.View(m.keymap))
		return sb.String()
	}

	// Ready state, show the queue and prompt
	var sb strings.Builder
	sb.WriteString(m.styles.Title.Render("Ready to Sync"))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("Mutations:  %d pending, %d failed\n", m.snapshot.PendingMutations, m.snapshot.FailedMutations))
	sb.WriteString(fmt.Sprintf("Photos:     %d pending, %d failed\n", m.snapshot.PendingImages, m.snapshot.FailedImages))
	sb.WriteString("\n")
	if !m.snapshot.IsOnline {
		sb.WriteString(m.styles.Warning.Render("The Synax API is unreachable; the cycle will be skipped."))
		sb.WriteString("\n")
	}
	if m.canRequeue() {
		sb.WriteString("Press Enter to start sync, r to requeue failed records, ? for help, q to quit.")
	} else {
		sb.WriteString("Press Enter to start sync, ? for help, q to quit.")
	}
	sb.WriteString("\n\n")

	if m.showHelp {
		sb.WriteString(m.help.View(m.keymap))
	}
	return sb.String()
}

func (m Model) resultView(res *synxsync.SyncResult) string {
	var sb strings.Builder
	if res.Skipped {
		sb.WriteString(m.styles.Warning.Render("Sync Skipped"))
		sb.WriteString("\n\n")
		sb.WriteString(fmt.Sprintf("Reason: %s\n", res.SkipReason))
		sb.WriteString("\nPress q to quit.")
		return sb.String()
	}

	sb.WriteString(m.styles.Title.Render("Sync Complete"))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("Mutations:  %d synced\n", res.MutationsSynced))
	sb.WriteString(fmt.Sprintf("Photos:     %d synced\n", res.ImagesSynced))
	if res.FailedItems > 0 {
		sb.WriteString(m.styles.Error.Render(fmt.Sprintf("Failed:     %d", res.FailedItems)))
		sb.WriteString("\n")
		for _, f := range res.Failures {
			sb.WriteString(m.styles.Subtle.Render(fmt.Sprintf("  %s %s: [%s] %s", f.EntityType, f.EntityID, f.ErrorType, f.Message)))
			sb.WriteString("\n")
		}
	}
	sb.WriteString(fmt.Sprintf("\nDuration: %s\n", res.Duration.Round(time.Millisecond)))
	if m.canRequeue() {
		sb.WriteString("\nPress r to requeue failures and sync again, q to quit.")
	} else {
		sb.WriteString("\nPress q to quit.")
	}
	return sb.String()
}
