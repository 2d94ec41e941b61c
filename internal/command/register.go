package command

// BuildTable registers every supported command.
func BuildTable() *Table {
	t := NewTable()

	t.Register("SUBSCRIBE", Spec{Handler: cmdSubscribe})
	t.Register("STRIPE_PORTAL", Spec{Handler: cmdStripePortal})
	t.Register("GET_MY_SUB", Spec{Handler: cmdGetMySub})
	t.Register("CHECK_SESSION", Spec{Handler: cmdCheckSession})
	t.Register("ADD_TO_PLAN", Spec{Handler: cmdAddToPlan})
	t.Register("CANCEL_GIFT", Spec{Handler: cmdCancelGift})

	t.Register("DPA_GET", Spec{Handler: cmdDPAGet})
	t.Register("DPA_CREATE", Spec{Handler: cmdDPACreate})
	t.Register("DPA_SIGN", Spec{Handler: cmdDPASign})
	t.Register("DPA_DOWNLOAD", Spec{Handler: cmdDPADownload})

	t.Register("ADMIN_GET_ALL", Spec{Admin: true, Handler: cmdAdminGetAll})
	t.Register("ADMIN_GET_SUB", Spec{Admin: true, Handler: cmdAdminGetSub})
	t.Register("ADMIN_UPDATE_SUB", Spec{Admin: true, Handler: cmdAdminUpdateSub})
	t.Register("ADMIN_FORCE_SYNC", Spec{Admin: true, Handler: cmdAdminForceSync})
	t.Register("ADMIN_GIFT", Spec{Admin: true, Handler: cmdAdminGift})
	t.Register("ADMIN_GET_DPA", Spec{Admin: true, Handler: cmdAdminGetDPA})
	t.Register("ADMIN_CANCEL_DPA", Spec{Admin: true, Handler: cmdAdminCancelDPA})
	t.Register("ADMIN_UNSIGN_DPA", Spec{Admin: true, Handler: cmdAdminUnsignDPA})
	t.Register("ADMIN_CREATE_DPA", Spec{Admin: true, Handler: cmdAdminCreateDPA})

	return t
}
