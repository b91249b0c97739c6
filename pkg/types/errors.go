package types

import "errors"

// ResultCode is the single outcome reported for one engine call.
type ResultCode int

// Result codes.
const (
	Success ResultCode = iota
	RowExists
	RowNotExists
	ConnectionError
	StatementError
	ParameterBindError
	QuerySynthesisError
	UnknownTable
	RecordNotFound
	NoMoreRecords
	FetchError
	InvalidOperationForDatastore
	PrimaryKeyViolation
	GeneralError
)

var resultCodeNames = [...]string{
	Success:                      "success",
	RowExists:                    "row_exists",
	RowNotExists:                 "row_not_exists",
	ConnectionError:              "connection_error",
	StatementError:               "statement_error",
	ParameterBindError:           "parameter_bind_error",
	QuerySynthesisError:          "query_synthesis_error",
	UnknownTable:                 "unknown_table",
	RecordNotFound:               "record_not_found",
	NoMoreRecords:                "no_more_records",
	FetchError:                   "fetch_error",
	InvalidOperationForDatastore: "invalid_operation_for_datastore",
	PrimaryKeyViolation:          "primary_key_violation",
	GeneralError:                 "general_error",
}

func (c ResultCode) String() string {
	if c >= 0 && int(c) < len(resultCodeNames) {
		return resultCodeNames[c]
	}
	return "unknown"
}

// Engine errors. Every error returned by the engine wraps exactly one of
// these; CodeOf recovers the matching ResultCode.
var (
	ErrRowExists           = errors.New("row exists")
	ErrRowNotExists        = errors.New("row does not exist")
	ErrConnection          = errors.New("database connection error")
	ErrStatement           = errors.New("statement execution failed")
	ErrParameterBind       = errors.New("parameter bind failed")
	ErrQuerySynthesis      = errors.New("query synthesis failed")
	ErrUnknownTable        = errors.New("unknown table")
	ErrRecordNotFound      = errors.New("record not found")
	ErrNoMoreRecords       = errors.New("no more records")
	ErrFetch               = errors.New("fetch failed")
	ErrInvalidOperation    = errors.New("invalid operation for datastore")
	ErrPrimaryKeyViolation = errors.New("primary key violation")
)

// Engine lifecycle errors.
var (
	ErrDetached        = errors.New("engine is detached")
	ErrAlreadyAttached = errors.New("engine is already attached")
	ErrPoolClosed      = errors.New("connection pool is shutting down")
)

var codeErrors = []struct {
	err  error
	code ResultCode
}{
	{ErrRowExists, RowExists},
	{ErrRowNotExists, RowNotExists},
	{ErrPoolClosed, ConnectionError},
	{ErrConnection, ConnectionError},
	{ErrStatement, StatementError},
	{ErrParameterBind, ParameterBindError},
	{ErrQuerySynthesis, QuerySynthesisError},
	{ErrUnknownTable, UnknownTable},
	{ErrRecordNotFound, RecordNotFound},
	{ErrNoMoreRecords, NoMoreRecords},
	{ErrFetch, FetchError},
	{ErrInvalidOperation, InvalidOperationForDatastore},
	{ErrPrimaryKeyViolation, PrimaryKeyViolation},
}

// CodeOf maps err to its ResultCode. A nil error is Success; an error that
// wraps none of the engine sentinels is GeneralError.
func CodeOf(err error) ResultCode {
	if err == nil {
		return Success
	}
	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}
	return GeneralError
}

// ExistenceCode converts an existence check into RowExists or RowNotExists.
func ExistenceCode(exists bool) ResultCode {
	if exists {
		return RowExists
	}
	return RowNotExists
}
