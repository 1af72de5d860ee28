package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/franzego/dispatchd/internal/models"
)

type BulkRecipient struct {
	Recipient string
	Context   map[string]interface{}
}

type BulkRejection struct {
	Index     int
	Recipient string
	Err       error
}

// BulkResult lists what was created. Callers detect rejections by comparing
// len(Created) with the input, or by reading Rejected.
type BulkResult struct {
	Created  []*models.Notification
	Rejected []BulkRejection
}

func (r *BulkResult) CreatedIDs() []string {
	ids := make([]string, 0, len(r.Created))
	for _, n := range r.Created {
		ids = append(ids, n.ID)
	}
	return ids
}

// SendBulk creates one notification per recipient. Per-recipient context
// keys override the shared context. Invalid recipients are skipped.
func (s *Service) SendBulk(ctx context.Context, templateName string, recipients []BulkRecipient, shared map[string]interface{}, priority models.Priority) *BulkResult {
	res := &BulkResult{}
	for i, r := range recipients {
		merged := make(map[string]interface{}, len(shared)+len(r.Context))
		for k, v := range shared {
			merged[k] = v
		}
		for k, v := range r.Context {
			merged[k] = v
		}

		n, err := s.Create(ctx, CreateInput{
			TemplateName: templateName,
			Recipient:    r.Recipient,
			Context:      merged,
			Priority:     priority,
		})
		if err != nil {
			res.Rejected = append(res.Rejected, BulkRejection{Index: i, Recipient: r.Recipient, Err: err})
			continue
		}
		res.Created = append(res.Created, n)
	}

	s.log.Info("bulk notifications processed",
		zap.String("template", templateName),
		zap.Int("requested", len(recipients)),
		zap.Int("created", len(res.Created)),
		zap.Int("rejected", len(res.Rejected)))
	return res
}
