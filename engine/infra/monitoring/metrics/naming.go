package metrics

import "strings"

const namespace = "ragchain"

// MetricName prefixes name with the application namespace unless it already carries it.
func MetricName(name string) string {
	if strings.HasPrefix(name, namespace+"_") {
		return name
	}
	return namespace + "_" + name
}

// MetricNameWithSubsystem builds ragchain_<subsystem>_<name>, trimming stray underscores.
func MetricNameWithSubsystem(subsystem, name string) string {
	subsystem = strings.Trim(subsystem, "_")
	name = strings.Trim(name, "_")
	if strings.HasPrefix(name, namespace+"_") {
		return name
	}
	switch {
	case subsystem == "":
		return MetricName(name)
	case name == "":
		return namespace + "_" + subsystem
	default:
		return namespace + "_" + subsystem + "_" + name
	}
}
