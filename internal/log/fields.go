package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldGroupID      = "group_id"
	FieldMemberID     = "member_id"
	FieldExpenseID    = "expense_id"
	FieldSettlementID = "settlement_id"
	FieldVersion      = "version"
	FieldAmountMinor  = "amount_minor"
	FieldCurrency     = "currency"
	FieldEventType    = "event_type"
	FieldTransfers    = "transfers"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentLedger  = "ledger"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentSheets  = "sheets"
	ComponentCache   = "cache"
	ComponentTrace   = "trace"
	ComponentBackend = "backend"
)

// Operations defines standard operation names
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpAppend = "append"
	OpJoin   = "join"
	OpLeave  = "leave"
	OpSettle = "settle"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds the error message; nil errors are skipped.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithGroup(groupID string) LogFields {
	f[FieldGroupID] = groupID
	return f
}

func (f LogFields) WithMember(memberID string) LogFields {
	f[FieldMemberID] = memberID
	return f
}

// WithExpense adds the expense identity and amount.
func (f LogFields) WithExpense(expenseID string, version int, amountMinor int64, cur string) LogFields {
	f[FieldExpenseID] = expenseID
	f[FieldVersion] = version
	f[FieldAmountMinor] = amountMinor
	f[FieldCurrency] = cur
	return f
}

func (f LogFields) WithSettlement(settlementID string, amountMinor int64, cur string) LogFields {
	f[FieldSettlementID] = settlementID
	f[FieldAmountMinor] = amountMinor
	f[FieldCurrency] = cur
	return f
}

func (f LogFields) WithEventType(typ string) LogFields {
	f[FieldEventType] = typ
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}

