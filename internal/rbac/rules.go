package rbac

// Default policy. Students see only their own data; the ownership check
// lives in RequireOwnerOr at the route layer.
var RolePermissions = map[string][]string{
	"student": {
		"challenge:respond",
		"challenge:submit",
		"challenge:view-own",
		"ledger:view-own",
		"spi:view-own",
		"difficulty:view-own",
	},
	"teacher": {
		"challenge:*",
		"ledger:append",
		"ledger:void",
		"ledger:view",
		"spi:calculate",
		"spi:view",
		"difficulty:view",
	},
	"school_admin": {
		"ledger:view",
		"integrity:verify",
		"spi:view",
	},
	"service": {
		"challenge:*",
		"ledger:append",
		"ledger:view",
		"spi:calculate",
		"spi:view",
		"difficulty:view",
	},
	"admin": {
		"*",
	},
}
