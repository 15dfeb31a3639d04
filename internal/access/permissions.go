package access

const (
	PermDeviceRead    = "device.read"
	PermDeviceControl = "device.control"
	PermUserManage    = "user.manage"
	PermRoleManage    = "role.manage"
	PermAuditView     = "audit.view"
)

var BuiltinPermissions = []Permission{
	{Key: PermDeviceRead, Description: "Read device state and telemetry"},
	{Key: PermDeviceControl, Description: "Issue commands to devices"},
	{Key: PermUserManage, Description: "Manage user accounts"},
	{Key: PermRoleManage, Description: "Manage roles, hierarchy and overrides"},
	{Key: PermAuditView, Description: "View audit records"},
}
