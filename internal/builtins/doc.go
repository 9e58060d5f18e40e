// Package builtins provides the tools every toolgate server exposes.
//
// # Tools
//
//   - add: Add two integers
//   - multiply: Multiply two numbers
//   - calculate_stats: count, sum, mean, median, min, max, variance (population)
//     and standard deviation of a non-empty list
//   - format_text: title, upper, lower, reverse, capitalize, snake_case or
//     kebab_case (default title)
//   - render_markdown: Markdown to HTML, GitHub Flavored by default
//   - server_info: server name, version, transports and the current catalog
//
// # Registration
//
//	builtins.RegisterAll(registry, builtins.Info{Name: "toolgate", Version: version})
//
// Each tool is a plain tools.Descriptor; argument decoding and validation are
// done by the synthesized function, so handlers read already-typed values
// from tools.Arguments.
package builtins
