package events

// SubjectResultsPublished carries ResultsPublished for one tenant.
func SubjectResultsPublished(tenantID string) string { return "results." + tenantID + ".published" }

// SubjectResultNotification carries per-student notification requests for one tenant.
func SubjectResultNotification(tenantID string) string { return "results." + tenantID + ".notify" }
