package policy

// BuiltinPolicies returns the policies loaded into every engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		destructiveCommandsPolicy(),
		remoteCodePolicy(),
		scriptSizePolicy(),
		privilegeEscalationPolicy(),
	}
}

// destructiveCommandsPolicy denies commands that wipe a whole filesystem or disk.
func destructiveCommandsPolicy() Policy {
	return Policy{
		Name:        "destructive-commands",
		Description: "Denies recursive removal of /, filesystem creation and raw disk writes",
		Severity:    SeverityCritical,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"safety"},
		Rego: `package orchestra.policies.destructive

import rego.v1

patterns := {
	"recursive removal of /": "(?m)\\brm\\s+(-[a-zA-Z]*\\s+)*-[a-zA-Z]*[rR][a-zA-Z]*\\s+(-[a-zA-Z]*\\s+)*/\\*?(\\s|;|$)",
	"filesystem creation": "(?m)(^|[;&|]\\s*|\\s)mkfs(\\.[a-z0-9]+)?\\s",
	"raw disk write": "(?m)\\bdd\\s.*\\bof=/dev/(sd|hd|vd|xvd|nvme)",
}

deny contains violation if {
	some i, fragment in input.fragments
	some what, pattern in patterns
	regex.match(pattern, fragment)
	violation := {
		"message": sprintf("fragment %d performs a %s", [i, what]),
		"severity": "critical",
		"fragment": i,
	}
}`,
	}
}

// remoteCodePolicy denies piping downloaded content into a shell.
func remoteCodePolicy() Policy {
	return Policy{
		Name:        "remote-code",
		Description: "Denies piping downloads into a shell interpreter",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"safety", "supply-chain"},
		Rego: `package orchestra.policies.remote

import rego.v1

deny contains violation if {
	some i, fragment in input.fragments
	regex.match("(?m)\\b(curl|wget)\\b[^|\\n]*\\|\\s*(sudo\\s+)?(ba|z|da)?sh\\b", fragment)
	violation := {
		"message": sprintf("fragment %d pipes a download into a shell", [i]),
		"severity": "error",
		"fragment": i,
	}
}`,
	}
}

// scriptSizePolicy bounds the rendered script size.
func scriptSizePolicy() Policy {
	return Policy{
		Name:        "script-size",
		Description: "Denies scripts larger than 4 MiB",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"limits"},
		Rego: `package orchestra.policies.size

import rego.v1

max_bytes := 4194304

deny contains violation if {
	count(input.script) > max_bytes
	violation := {
		"message": sprintf("script is %d bytes, the limit is %d", [count(input.script), max_bytes]),
		"severity": "error",
	}
}`,
	}
}

// privilegeEscalationPolicy warns about sudo inside fragments. Transports
// already run scripts with the configured privileges.
func privilegeEscalationPolicy() Policy {
	return Policy{
		Name:        "privilege-escalation",
		Description: "Warns when a fragment calls sudo or su",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"privileges"},
		Rego: `package orchestra.policies.privileges

import rego.v1

deny contains violation if {
	some i, fragment in input.fragments
	regex.match("(?m)(^|[;&|]\\s*)(sudo|su)\\s", fragment)
	violation := {
		"message": sprintf("fragment %d escalates privileges", [i]),
		"severity": "warning",
		"fragment": i,
	}
}`,
	}
}
