// Package policy gates compiled backend scripts with Open Policy Agent.
//
// Every enabled policy is a Rego module defining a "deny" set. Members are
// either strings or objects:
//
//	package custom.policies.reload
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.backend == "dns-master"
//	    not input.server.local
//	    some i, fragment in input.fragments
//	    contains(fragment, "rndc reconfig")
//	    violation := {
//	        "message": "remote masters reload with the configured command",
//	        "severity": "error",
//	        "fragment": i,
//	    }
//	}
//
// The input document holds the backend name, the target server (name, address,
// os, local), the full script, its fragments and the bucket actions.
//
// Violations with severity error or critical deny the script and the bucket
// fails to compile; info and warning violations are logged only.
//
// # Built-in Policies
//
//  1. destructive-commands - rm -r on /, mkfs, dd onto a disk device
//  2. remote-code - curl or wget piped into a shell
//  3. script-size - scripts over 4 MiB
//  4. privilege-escalation - sudo or su in a fragment (warning)
//
// The policy directory holds bare .rego modules, whose leading comments give the
// description and a "# severity:" line, or .json/.yaml definitions with name,
// description, severity, tags and the rego module. Files loaded from the
// directory replace each other on reload and may override a built-in policy by
// reusing its name.
package policy
