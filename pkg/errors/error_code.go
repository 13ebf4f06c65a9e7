package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Configuration errors (100-199)
	ErrCodeInvalidConfiguration ErrorCode = 100
	ErrCodeInvalidParameter     ErrorCode = 101
	ErrCodeInvalidWindow        ErrorCode = 102
	ErrCodeInvalidRiskLimit     ErrorCode = 103
	ErrCodeInvalidCommission    ErrorCode = 104
	ErrCodeInvalidSlippage      ErrorCode = 105
	ErrCodeMissingParameter     ErrorCode = 106
	ErrCodeInvalidPrecision     ErrorCode = 107

	// Data errors (200-299)
	ErrCodeInsufficientData ErrorCode = 200
	ErrCodeUnorderedSeries  ErrorCode = 201
	ErrCodeEmptySeries      ErrorCode = 202
	ErrCodeMalformedBar     ErrorCode = 203
	ErrCodeDataLoadFailed   ErrorCode = 204

	// Indicator errors (300-399)
	ErrCodeIndicatorCalculation ErrorCode = 300

	// Strategy errors (400-499)
	ErrCodeUnknownStrategy  ErrorCode = 400
	ErrCodeStrategyRuntime  ErrorCode = 401
	ErrCodeInvalidTimeframe ErrorCode = 402

	// Execution errors (500-599)
	ErrCodeInvalidOrder      ErrorCode = 500
	ErrCodeInvalidTransition ErrorCode = 501
	ErrCodeOrderFailed       ErrorCode = 502
	ErrCodeNoLiquidity       ErrorCode = 503
	ErrCodeInsufficientCash  ErrorCode = 504
	ErrCodeNoPosition        ErrorCode = 505

	// Run errors (600-699)
	ErrCodeLedgerFailed       ErrorCode = 600
	ErrCodeInvariantViolation ErrorCode = 601
	ErrCodeRunFailed          ErrorCode = 602

	// Optimizer errors (700-799)
	ErrCodeCombinationCeiling ErrorCode = 700
	ErrCodeInvalidObjective   ErrorCode = 701
	ErrCodeInvalidWindowSplit ErrorCode = 702
	ErrCodeEmptyParameterSet  ErrorCode = 703
)
