package agentstatus

// Specialist is a known agent of the backend team.
type Specialist struct {
	Name string
	Role string
}

// Category groups specialists for the aggregated view.
type Category struct {
	Name        string
	Specialists []Specialist
}

// DefaultCategories is the fixed taxonomy of the agent team.
var DefaultCategories = []Category{
	{
		Name: "Strategy & Planning",
		Specialists: []Specialist{
			{Name: "Orchestrator", Role: "Routes requests and coordinates specialists"},
			{Name: "Product Manager", Role: "Turns goals into requirements"},
			{Name: "Project Manager", Role: "Plans milestones and tracks delivery"},
		},
	},
	{
		Name: "Development & Engineering",
		Specialists: []Specialist{
			{Name: "Frontend Developer", Role: "Builds user interfaces"},
			{Name: "Backend Architect", Role: "Designs services and data models"},
			{Name: "DevOps Engineer", Role: "Owns build, deploy and infrastructure"},
		},
	},
	{
		Name: "Design & Experience",
		Specialists: []Specialist{
			{Name: "UI Designer", Role: "Produces visual designs"},
			{Name: "UX Researcher", Role: "Studies user needs and flows"},
		},
	},
	{
		Name: "Quality & Testing",
		Specialists: []Specialist{
			{Name: "QA Tester", Role: "Writes and runs test plans"},
			{Name: "Security Auditor", Role: "Reviews code and configuration for vulnerabilities"},
		},
	},
	{
		Name: "Content & Growth",
		Specialists: []Specialist{
			{Name: "Technical Writer", Role: "Writes documentation"},
			{Name: "Growth Marketer", Role: "Plans launches and campaigns"},
		},
	},
}
