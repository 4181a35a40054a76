package macros

import (
	"github.com/dop251/goja"
)

// ConfigureGojaRuntime prepares a fresh runtime for user code. Exported Go
// structs use their json names and Object.prototype.toString is stable.
func ConfigureGojaRuntime(runtime *goja.Runtime) {
	runtime.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	objectPrototype := runtime.Get("Object").ToObject(runtime).Get("prototype").ToObject(runtime)

	objectPrototype.Set("toString", func() string {
		return "[object Object]"
	})
}
