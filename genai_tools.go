package cmdgate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Tool renders the registry as a single Gemini tool with one function
// declaration per command.
func (r *Registry) Tool() *genai.Tool {
	result := &genai.Tool{}
	for _, cmd := range r.order {
		result.FunctionDeclarations = append(result.FunctionDeclarations, cmd.FunctionDeclaration())
	}
	return result
}

// FunctionDeclaration describes cmd to the model. Every parameter is sent
// as a string, with its validation pattern in the description so the model
// can avoid values that would be rejected.
func (cmd *CommandDescriptor) FunctionDeclaration() *genai.FunctionDeclaration {
	description := cmd.Description
	if description == "" {
		switch b := cmd.Binding.(type) {
		case NativeBinding:
			description = fmt.Sprintf("Performs the action: %s", cmd.Name)
		case ProcessBinding:
			description = fmt.Sprintf("Executes the Linux command: %s", b.Executable)
		}
	}

	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{},
	}
	for _, p := range cmd.Parameters {
		property := &genai.Schema{
			Type:        genai.TypeString,
			Title:       p.Name,
			Description: fmt.Sprintf("%s (%s), must match %s", p.Name, p.Type, p.Validation),
		}
		if portablePattern(p.Validation) {
			property.Pattern = p.Validation
		}
		schema.Properties[p.Name] = property
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}

	return &genai.FunctionDeclaration{
		Name:        cmd.Name,
		Description: description,
		Parameters:  schema,
	}
}

// portablePattern reports whether pattern avoids RE2 group syntax such as
// inline flags (?s) or named groups (?P<name>), which the schema pattern
// dialect does not accept. Other patterns only travel in the description.
func portablePattern(pattern string) bool {
	return !strings.Contains(pattern, "(?")
}

// StringArgs converts model-supplied arguments to the raw text form the
// dispatcher validates. Non-string values are rendered as JSON.
func StringArgs(args map[string]any) map[string]string {
	raw := make(map[string]string, len(args))
	for name, value := range args {
		switch v := value.(type) {
		case string:
			raw[name] = v
		case nil:
			// omitted
		default:
			raw[name] = AsJSON(v)
		}
	}
	return raw
}

func FormatFunctionCall(fc *genai.FunctionCall) string {
	buf := bytes.NewBufferString(fc.Name)
	if fc.ID != "" {
		fmt.Fprintf(buf, "@%s", fc.ID)
	}
	fmt.Fprintf(buf, "(%s)", AsJSON(fc.Args))
	return buf.String()
}

func AsJSON(value any) string {
	asBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(asBytes)
}

func CropText(in string, width int) string {
	if len(in) <= width {
		return in
	}

	half := width / 2
	return in[0:half] + "…" + in[len(in)-half:]
}
