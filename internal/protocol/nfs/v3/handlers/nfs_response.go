package handlers

// NFSResponseBase is embedded in every NFS v3 response. Status is always
// the first item of the encoded result.
//
//	resp := &ReadResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3OK}}
//	status := resp.GetStatus()
type NFSResponseBase struct {
	// Status is the nfsstat3 result of the operation.
	Status uint32
}

// GetStatus returns the NFS status code from the response. The dispatcher
// uses it to label metrics.
func (r *NFSResponseBase) GetStatus() uint32 {
	return r.Status
}

func respStatus(s uint32) NFSResponseBase {
	return NFSResponseBase{Status: s}
}
