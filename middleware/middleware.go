package middleware

import (
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	CommonMiddlewares = []gin.HandlerFunc{}
)

// Register adds global middlewares that apply to all routes. Must be
// called before router.Init. Each middleware is wrapped by
// middlewareWrapper under a name inferred via reflection.
func Register(middlewares ...gin.HandlerFunc) {
	for _, middleware := range middlewares {
		if middleware == nil {
			continue
		}
		name := getFunctionName(middleware)
		wrapped := middlewareWrapper(name, middleware)
		CommonMiddlewares = append(CommonMiddlewares, wrapped)
	}
}

// middlewareWrapper stores name under the "middleware.current" context
// key before running h. gin's HandlerName is not changed.
func middlewareWrapper(name string, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("middleware.current", name)
		h(c)
	}
}

// getFunctionName extracts the function name from a gin.HandlerFunc using reflection
func getFunctionName(fn gin.HandlerFunc) string {
	if fn == nil {
		return "unknown"
	}

	fnPtr := reflect.ValueOf(fn).Pointer()

	fnInfo := runtime.FuncForPC(fnPtr)
	if fnInfo == nil {
		return "unknown"
	}

	fullName := fnInfo.Name()
	file, line := fnInfo.FileLine(fnPtr)

	lastDot := strings.LastIndex(fullName, "/")
	if lastDot >= 0 {
		fullName = fullName[lastDot+1:]
	}

	parts := strings.Split(fullName, ".")
	if len(parts) < 2 {
		return cleanFunctionName(fullName)
	}

	funcName := parts[len(parts)-1]

	if strings.HasPrefix(funcName, "func") || strings.Contains(funcName, "glob..func") {
		if len(parts) >= 3 {
			parentName := parts[len(parts)-2]

			if parentName == "glob" || (len(parentName) > 0 && isNumeric(parentName[0])) {
				if file != "" {
					return fmt.Sprintf("%s_L%d", filepath.Base(strings.TrimSuffix(file, ".go")), line)
				}
				return fmt.Sprintf("anonymous_L%d", line)
			}

			if parentName != "" && !strings.Contains(parentName, "..") {
				return parentName
			}
		}

		if file != "" {
			return fmt.Sprintf("%s_L%d", filepath.Base(strings.TrimSuffix(file, ".go")), line)
		}
		return "anonymous"
	}

	if len(funcName) > 0 && isNumeric(funcName[0]) {
		if file != "" {
			return fmt.Sprintf("%s_L%d", filepath.Base(strings.TrimSuffix(file, ".go")), line)
		}
		return fmt.Sprintf("func%s", funcName)
	}

	return cleanFunctionName(funcName)
}

// cleanFunctionName removes common suffixes and returns a clean function name
func cleanFunctionName(name string) string {
	name = strings.TrimSuffix(name, "-fm")
	name = strings.TrimSuffix(name, ".func1")
	name = strings.TrimSuffix(name, ".func2")
	return name
}

// isNumeric checks if a byte represents a numeric character
func isNumeric(b byte) bool {
	return b >= '0' && b <= '9'
}
