package oracle

import "fmt"

// Kind selects the instruction the oracle is asked to follow.
type Kind string

const (
	KindConvertUserInputToGoal     Kind = "convert_user_input_to_goal"
	KindPrintProjectScope          Kind = "print_project_scope"
	KindPrintSiteURLs              Kind = "print_site_urls"
	KindPrintBackendWebserverCode  Kind = "print_backend_webserver_code"
	KindPrintImprovedWebserverCode Kind = "print_improved_webserver_code"
	KindPrintFixedCode             Kind = "print_fixed_code"
	KindPrintRESTAPIEndpoints      Kind = "print_rest_api_endpoints"
)

var instructions = map[Kind]string{
	KindConvertUserInputToGoal: `Input is a user request for a website or backend service.
Output is a single concise sentence describing the goal of the project from the point of view
of a project manager. Example output: "build a website that tracks and displays daily fitness progress".`,

	KindPrintProjectScope: `Input is a project description.
Output is a JSON object with exactly these boolean fields:
{"is_crud_required": bool, "is_user_login_and_logout_required": bool, "is_external_urls_required": bool}
is_external_urls_required is true only if the service must fetch data from public third party APIs.
Output the JSON object only.`,

	KindPrintSiteURLs: `Input is a project description.
Output is a JSON array of strings: public, unauthenticated API URLs that the project could call
to obtain the external data it needs. Every URL must be directly callable with GET and return
200 without an API key. Output the JSON array only.`,

	KindPrintBackendWebserverCode: `Input contains CODE_TEMPLATE and PROJECT_DESCRIPTION.
Output is a complete Go program (package main) based on CODE_TEMPLATE that implements
PROJECT_DESCRIPTION. Keep the existing task and user routes, replace or add routes as the
description requires, and keep listening on port 8080. Use only the Go standard library.
Output the Go source code only.`,

	KindPrintImprovedWebserverCode: `Input contains CODE_TEMPLATE (current Go program) and PROJECT_DESCRIPTION
(the full project record as JSON). Output is the same Go program improved so that it fully
satisfies the project: fill in missing handlers, use the external URLs listed if any, keep it
compiling and keep listening on port 8080. Use only the Go standard library.
Output the Go source code only.`,

	KindPrintFixedCode: `Input contains BROKEN_CODE (a Go program) and ERROR_BUGS (go build diagnostics).
Output is the full corrected Go program that fixes every reported diagnostic without removing
functionality. Output the Go source code only.`,

	KindPrintRESTAPIEndpoints: `Input is CODE_INPUT, the source of a Go HTTP server.
Output is a JSON array describing every REST route the server registers. Each element has the form
{"is_route_dynamic": bool, "method": "GET"|"PATCH"|"POST"|"PUT"|"DELETE",
"request_body": any JSON or null, "response": any JSON or null, "route": "/path"}.
is_route_dynamic is true when the path contains a parameter such as /task/{id}.
Output the JSON array only.`,
}

// Instruction returns the function description sent for k.
func (k Kind) Instruction() string {
	return instructions[k]
}

// Valid reports whether k is a known task kind.
func (k Kind) Valid() bool {
	_, ok := instructions[k]
	return ok
}

// Task is one request to the oracle.
type Task struct {
	Context string // input to the instruction
	Role    string // position of the requesting agent
	Label   string // short human description of the operation
	Kind    Kind
}

// Prompt frames the task as a "function printer" system message so the
// oracle returns only the function's output.
func (t Task) Prompt() string {
	return fmt.Sprintf(`FUNCTION: %s
INSTRUCTION: You are a function printer. You ONLY print the results of functions.
Nothing else. No commentary. Here is the input to the function: %s
Print out what the function will return.`, t.Kind.Instruction(), t.Context)
}
