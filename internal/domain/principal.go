package domain

type Role string

const (
	RoleMerchantOwner Role = "merchant_owner"
	RoleCourier       Role = "courier"
	RoleCustomer      Role = "customer"
	RoleSuperAdmin    Role = "super_admin"
)

// Principal is the authenticated caller as reported by the identity provider.
type Principal struct {
	Subject    string `json:"sub"`
	Roles      []Role `json:"roles"`
	MerchantID string `json:"merchant_id,omitempty"`
	CourierID  string `json:"courier_id,omitempty"`
}

// SystemPrincipal acts for internal collaborators such as the payment webhook
// and the offer reconciler.
var SystemPrincipal = Principal{Subject: "system", Roles: []Role{RoleSuperAdmin}}

func (p Principal) Has(role Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (p Principal) IsSuperAdmin() bool {
	return p.Has(RoleSuperAdmin)
}

// OwnsMerchant reports whether p may act as staff of the merchant.
func (p Principal) OwnsMerchant(merchantID string) bool {
	if p.IsSuperAdmin() {
		return true
	}
	return p.Has(RoleMerchantOwner) && p.MerchantID != "" && p.MerchantID == merchantID
}

// IsCourier reports whether p is the given courier.
func (p Principal) IsCourier(courierID string) bool {
	return p.Has(RoleCourier) && p.CourierID != "" && p.CourierID == courierID
}
