// Package secret provides a small, dependency-light secret resolution layer.
//
// It supports:
//   - Strict environment expansion (see ExpandEnvStrict)
//   - Pluggable secret providers (see Provider + Registry)
//   - Resolving secret references in configuration values (see Resolver)
//
// References use the prefix "secretref:":
//   - Full value:  secretref:env:GUARD_API_KEY
//   - Inline use:  Bearer secretref:env:GUARD_API_KEY
//
// model.LoadConfig uses a Resolver to resolve AgentConfig.APIKey and
// AgentConfig.Endpoint so a host process never has to place a literal
// credential in its configuration source.
package secret
