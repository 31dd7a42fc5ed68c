package pg

import (
	"context"
	"reflect"

	"tokenledger/errors"
)

// ErrBadRequest is returned by ForQueryRows when its callback
// argument has the wrong shape.
var ErrBadRequest = errors.New("bad request")

// The type of "error"
var errorInterface = reflect.TypeOf((*error)(nil)).Elem()

// ForQueryRows runs query with the leading args and calls the
// final arg, a function, once per result row. The function's
// parameters receive the row's columns through rows.Scan, so their
// number and types must match the selected columns. For example,
// reading unspent token states:
//
//   err = ForQueryRows(ctx, db, "SELECT tx_id, index, amount FROM token_states WHERE owner_key = $1", key,
//     func(txID token.Hash, index uint32, amount int64) {
//       ...
//     })
//
// Each call gets fresh values. The function may return an error;
// a non-nil error stops the iteration and is returned wrapped.
// A malformed function argument yields ErrBadRequest before
// the query runs.
func ForQueryRows(ctx context.Context, db DB, query string, args ...interface{}) error {
	if len(args) == 0 {
		return errors.Wrap(ErrBadRequest, "too few arguments")
	}

	fnArg := args[len(args)-1]
	queryArgs := args[:len(args)-1]

	fnType := reflect.TypeOf(fnArg)
	if fnType.Kind() != reflect.Func {
		return errors.Wrap(ErrBadRequest, "fn arg not a function")
	}
	if fnType.NumOut() > 1 {
		return errors.Wrap(ErrBadRequest, "fn arg must return 0 values or 1")
	}
	if fnType.NumOut() == 1 && !fnType.Out(0).Implements(errorInterface) {
		return errors.Wrap(ErrBadRequest, "fn arg return type must be error")
	}

	rows, err := db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return errors.Wrap(err, "query")
	}
	defer rows.Close()

	fnVal := reflect.ValueOf(fnArg)

	argPtrVals := make([]reflect.Value, 0, fnType.NumIn())
	scanArgs := make([]interface{}, 0, fnType.NumIn())
	fnArgs := make([]reflect.Value, 0, fnType.NumIn())

	for rows.Next() {
		argPtrVals = argPtrVals[:0]
		scanArgs = scanArgs[:0]
		fnArgs = fnArgs[:0]
		for i := 0; i < fnType.NumIn(); i++ {
			argType := fnType.In(i)
			argPtrVal := reflect.New(argType)
			argPtrVals = append(argPtrVals, argPtrVal)
			scanArgs = append(scanArgs, argPtrVal.Interface())
		}
		err = rows.Scan(scanArgs...)
		if err != nil {
			return errors.Wrap(err, "scan")
		}
		for _, argPtrVal := range argPtrVals {
			fnArgs = append(fnArgs, argPtrVal.Elem())
		}
		res := fnVal.Call(fnArgs)
		if fnType.NumOut() == 1 && !res[0].IsNil() {
			return errors.Wrap(res[0].Interface().(error), "callback")
		}
	}

	return errors.Wrap(rows.Err(), "end scan")
}
