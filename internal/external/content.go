package external

import (
	"context"
	"fmt"
	"time"

	"inkwell/internal/queue"
	"inkwell/internal/types"
)

// TemplateContentGenerator renders notification content from static per-type
// templates. The richer journaling-data renderer lives upstream; the queue
// core only requires that Generate returns a non-nil Content on success.
type TemplateContentGenerator struct {
	loc *time.Location
}

// NewTemplateContentGenerator builds the generator. loc localizes dates in
// the rendered subject lines.
func NewTemplateContentGenerator(loc *time.Location) *TemplateContentGenerator {
	if loc == nil {
		loc = time.UTC
	}
	return &TemplateContentGenerator{loc: loc}
}

// Generate produces subject and body for the given job type. Unknown types
// return an error so the processor records a meaningful failure.
func (g *TemplateContentGenerator) Generate(ctx context.Context, userID string, jobType types.JobType) (*types.Content, error) {
	day := time.Now().In(g.loc).Format("January 2, 2006")

	switch jobType {
	case types.JobDailyDigest:
		return &types.Content{
			Subject: fmt.Sprintf("Your journal digest for %s", day),
			Body:    "<p>Here is a look back at your recent journaling activity.</p>",
		}, nil
	case types.JobGoalReminder:
		return &types.Content{
			Subject: "A gentle nudge on your writing goal",
			Body:    "<p>You set a goal worth keeping. A few minutes today counts.</p>",
		}, nil
	case types.JobMilestoneAlert:
		return &types.Content{
			Subject: "You hit a journaling milestone",
			Body:    "<p>Congratulations, you reached a new writing streak.</p>",
		}, nil
	default:
		return nil, fmt.Errorf("no template for job type %q", jobType)
	}
}

var _ queue.ContentGenerator = (*TemplateContentGenerator)(nil)
