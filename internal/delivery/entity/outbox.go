package entity

import (
	"time"

	"github.com/shandysiswandi/courier/internal/pkg/valueobject"
)

// Attachment origins. Embedded content arrived inline with the request,
// fetched-url content is resolved from its URL during dispatch.
const (
	AttachmentOriginEmbedded   = "embedded"
	AttachmentOriginFetchedURL = "fetched-url"
)

// AttachmentRef references attachment content by remote URL, inline bytes or
// a storage key once fetched.
type AttachmentRef struct {
	URL        string `json:"url,omitempty"`
	Content    []byte `json:"content,omitempty"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
	Origin     string `json:"origin,omitempty"`
	Size       int64  `json:"size,omitempty"`
}

// Correction is one append-only entry in the recipient correction history.
type Correction struct {
	At         time.Time `json:"at"`
	OldAddress string    `json:"old_address"`
	NewAddress string    `json:"new_address"`
	Reason     string    `json:"reason,omitempty"`
	Actor      string    `json:"actor,omitempty"`
}

// OutboxMessage is the persistent record of one email delivery.
type OutboxMessage struct {
	ID         int64
	MessageID  string
	TenantID   string
	ProviderID string

	From    string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string

	BodyFormat   BodyFormat
	BodyContent  *string
	TemplateID   *string
	TemplateData valueobject.JSONMap
	Attachments  []AttachmentRef

	Status Status
	Source Source

	RetryCount   int32
	ErrorMessage *string
	BounceReason *string

	Corrections      []Correction
	OriginalOutboxID *int64

	ProviderMessageID *string

	QueuedAt            *time.Time
	ProcessingStartedAt *time.Time
	SentAt              *time.Time
	DeliveredAt         *time.Time
	ProcessingTimeMS    int64
	NextRetryAt         *time.Time

	ClaimedBy *string
	ClaimedAt *time.Time

	Metadata  valueobject.JSONMap
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RetryPolicy bounds automatic retries for transient failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of delivery attempts, 1 to 5.
	MaxAttempts int32
	// BaseBackoff is the first retry delay; later retries grow
	// exponentially and are clamped to MaxBackoff.
	BaseBackoff time.Duration
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
}

const (
	// MinRetryAttempts and MaxRetryAttempts bound RetryPolicy.MaxAttempts.
	MinRetryAttempts int32 = 1
	MaxRetryAttempts int32 = 5

	// MinBackoff and MaxBackoff bound the retry delay configuration.
	MinBackoff = 30 * time.Second
	MaxBackoff = 3600 * time.Second
)

// Clamp returns a copy of the policy with all values forced into bounds.
func (p RetryPolicy) Clamp() RetryPolicy {
	out := p
	if out.MaxAttempts < MinRetryAttempts {
		out.MaxAttempts = MinRetryAttempts
	}
	if out.MaxAttempts > MaxRetryAttempts {
		out.MaxAttempts = MaxRetryAttempts
	}
	if out.BaseBackoff < MinBackoff {
		out.BaseBackoff = MinBackoff
	}
	if out.BaseBackoff > MaxBackoff {
		out.BaseBackoff = MaxBackoff
	}
	if out.MaxBackoff < out.BaseBackoff {
		out.MaxBackoff = out.BaseBackoff
	}
	if out.MaxBackoff > MaxBackoff {
		out.MaxBackoff = MaxBackoff
	}
	return out
}
