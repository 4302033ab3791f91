// Package device provides the Device Registry for OTA Core.
//
// The registry is the catalogue of updatable devices. Device creation and
// deletion belong to provisioning; the group engines only ever change a
// device's group assignment.
//
// # Membership
//
// Each device row carries a nullable group_id. Membership is therefore
// exclusive by construction: a device belongs to zero or one groups, and a
// group's device set is always derived from the devices table rather than
// stored twice.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db)
//
//	dev := &device.Device{MACAddress: "aa:bb:cc:dd:ee:ff", Name: "lobby-display"}
//	if err := repo.Create(ctx, dev); err != nil {
//	    return err
//	}
//
//	// Inside a caller-owned transaction
//	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
//	    return repo.WithTx(tx).SetGroup(ctx, dev.ID, &groupID)
//	})
//
// # Thread Safety
//
// SQLiteRepository holds no state besides its handle and is safe for
// concurrent use. Consistency across concurrent callers comes from the
// transaction the caller runs it in.
package device
