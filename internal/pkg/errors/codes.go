package errors

// Error code constants. Errors carry code + params; admin surfaces translate.
// Backend logs always in English.

// Notification preference error codes.
const (
	CodePreferenceNotFound     = "PREFERENCE_NOT_FOUND"
	CodePreferenceInvalid      = "PREFERENCE_INVALID"
	CodeAncestorInvalid        = "PREFERENCE_ANCESTOR_INVALID"
	CodeRequiredFieldMissing   = "PREFERENCE_REQUIRED_FIELD_MISSING"
	CodeScheduleUnsupported    = "PREFERENCE_SCHEDULE_UNSUPPORTED"
	CodeCriteriaInvalid        = "ADDITIONAL_CRITERIA_INVALID"
	CodePreferenceNotDeletable = "PREFERENCE_NOT_DELETABLE"
)

// Resolver and recipient error codes.
const (
	CodeResolverUnknown   = "RESOLVER_UNKNOWN"
	CodeRecipientUnknown  = "RECIPIENT_RESOLVER_UNKNOWN"
	CodePayloadKeyMissing = "EVENT_PAYLOAD_KEY_MISSING"
)

// Queue processing error codes.
const (
	CodeQueueRowOrphaned = "QUEUE_ROW_ORPHANED"
	CodeDeliveryFailed   = "DELIVERY_FAILED"
	CodeChannelUnknown   = "DELIVERY_CHANNEL_UNKNOWN"
)

// Validation error codes.
const (
	CodeInvalidRequestField = "INVALID_REQUEST_FIELD"
	CodeInternalError       = "INTERNAL_ERROR"
)
