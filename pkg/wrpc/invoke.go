package wrpc

import (
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/joomcode/errorx"

	"github.com/mgnsk/fibra-workers/pkg/codec"
)

var (
	tokenType  = reflect.TypeOf((*CancellationToken)(nil))
	futureType = reflect.TypeOf((*Future)(nil))
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
)

// invocation is a service method bound to its restored arguments.
type invocation struct {
	fn        reflect.Value
	args      []reflect.Value
	withToken bool
}

// MethodName maps a wire method name to its Go method name.
func MethodName(name string) string {
	r, n := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[n:]
}

func bind(reg *codec.Registry, service any, serviceName, method string, tree any) (*invocation, error) {
	fn := reflect.ValueOf(service).MethodByName(MethodName(method))
	if !fn.IsValid() {
		return nil, ErrMethodNotFound.New("service %q has no method %q", serviceName, method)
	}

	t := fn.Type()
	if t.IsVariadic() || t.NumOut() > 2 || t.NumOut() == 2 && t.Out(1) != errorType {
		return nil, ErrMethodNotFound.New("%s.%s has an unsupported signature %s", serviceName, method, t)
	}

	n := t.NumIn()
	withToken := n > 0 && t.In(n-1) == tokenType
	if withToken {
		n--
	}
	types := make([]reflect.Type, n)
	for i := range n {
		types[i] = t.In(i)
	}

	args, err := codec.RestoreArgs(reg, tree, types)
	if err != nil {
		if errorx.IsOfType(err, codec.ErrUnknownTypeTag) {
			return nil, err
		}
		return nil, ErrInvalidArguments.Wrap(err, "%s.%s", serviceName, method)
	}
	return &invocation{fn: fn, args: args, withToken: withToken}, nil
}

// run calls the method and adapts its results to a Future. Panics reject
// the Future.
func (inv *invocation) run(tok *CancellationToken) (f *Future) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				f = RejectedFuture(ErrPanic.Wrap(err, "service method panicked"))
				return
			}
			f = RejectedFuture(ErrPanic.New("service method panicked: %v", r))
		}
	}()

	args := inv.args
	if inv.withToken {
		args = append(args[:len(args):len(args)], reflect.ValueOf(tok))
	}
	return settle(inv.fn.Call(args))
}

func settle(out []reflect.Value) *Future {
	if len(out) == 2 {
		if err := out[1]; !err.IsNil() {
			return RejectedFuture(err.Interface().(error))
		}
	}
	if len(out) == 0 {
		return ResolvedFuture(nil)
	}

	v := out[0]
	switch v.Type() {
	case futureType:
		if v.IsNil() {
			return ResolvedFuture(nil)
		}
		return v.Interface().(*Future)
	case errorType:
		if len(out) == 1 {
			if v.IsNil() {
				return ResolvedFuture(nil)
			}
			return RejectedFuture(v.Interface().(error))
		}
	}
	return ResolvedFuture(v.Interface())
}
