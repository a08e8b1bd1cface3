package iam

// Builtin role codes. System roles cannot be deleted.
const (
	RoleAdmin   = "admin"
	RoleStaff   = "staff"
	RoleStudent = "student"
)

// Builtin permission codes.
const (
	PermUsersRead     = "users.read"
	PermUsersWrite    = "users.write"
	PermUsersDelete   = "users.delete"
	PermRolesManage   = "roles.manage"
	PermGrantsManage  = "grants.manage"
	PermCoursesRead   = "courses.read"
	PermCoursesWrite  = "courses.write"
	PermGradesRead    = "grades.read"
	PermGradesWrite   = "grades.write"
	PermDormRead      = "dorm.read"
	PermDormManage    = "dorm.manage"
	PermFinanceRead   = "finance.read"
	PermFinanceManage = "finance.manage"
	PermLibraryRead   = "library.read"
	PermLibraryManage = "library.manage"
	PermNotifySend    = "notifications.send"
	PermReportsView   = "reports.view"
)

// BuiltinPermissions is the seed catalog ensured at startup.
var BuiltinPermissions = []Permission{
	{Code: PermUsersRead, Resource: "users", Action: "read", Description: "List and inspect user accounts"},
	{Code: PermUsersWrite, Resource: "users", Action: "write", Description: "Create and update user accounts"},
	{Code: PermUsersDelete, Resource: "users", Action: "delete", Description: "Disable user accounts"},
	{Code: PermRolesManage, Resource: "roles", Action: "write", Description: "Manage roles and role assignments"},
	{Code: PermGrantsManage, Resource: "grants", Action: "write", Description: "Manage direct permission grants"},
	{Code: PermCoursesRead, Resource: "courses", Action: "read", Description: "View courses and enrollment"},
	{Code: PermCoursesWrite, Resource: "courses", Action: "write", Description: "Manage courses and enrollment"},
	{Code: PermGradesRead, Resource: "grades", Action: "read", Description: "View grade records"},
	{Code: PermGradesWrite, Resource: "grades", Action: "write", Description: "Record and amend grades"},
	{Code: PermDormRead, Resource: "dormitory", Action: "read", Description: "View dormitory occupancy"},
	{Code: PermDormManage, Resource: "dormitory", Action: "write", Description: "Manage rooms and accommodation"},
	{Code: PermFinanceRead, Resource: "finance", Action: "read", Description: "View financial records"},
	{Code: PermFinanceManage, Resource: "finance", Action: "write", Description: "Manage financial records"},
	{Code: PermLibraryRead, Resource: "library", Action: "read", Description: "View library catalog and loans"},
	{Code: PermLibraryManage, Resource: "library", Action: "write", Description: "Manage library catalog and loans"},
	{Code: PermNotifySend, Resource: "notifications", Action: "write", Description: "Send notifications"},
	{Code: PermReportsView, Resource: "reports", Action: "read", Description: "View aggregate reports"},
}

// BuiltinRoles are seeded alongside the permission catalog.
var BuiltinRoles = []Role{
	{Code: RoleAdmin, Name: "Administrator", Description: "Full platform administration", System: true},
	{Code: RoleStaff, Name: "Staff", Description: "Teaching and administrative staff", System: true},
	{Code: RoleStudent, Name: "Student", Description: "Enrolled student", System: true},
}
