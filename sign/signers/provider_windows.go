//go:build windows

package signers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"go.uber.org/zap"
)

// CAPICOM and CAdESCOM automation constants.
const (
	capicomLocalMachineStore       = 1
	capicomCurrentUserStore        = 2
	capicomMyStore                 = "My"
	capicomStoreOpenReadOnly       = 0
	capicomStoreOpenMaximumAllowed = 2
	capicomFindSHA1Hash            = 0
	cadescomCadesBES               = 1
	cadescomEncodeBase64           = 0
	cadescomBase64ToBinary         = 1
)

// comFalse is S_FALSE, returned when COM is already initialized on the
// calling thread.
const comFalse = 0x00000001

// comProviderClient drives CAdESCOM (Store, CPSigner, CadesSignedData)
// through COM automation.
type comProviderClient struct {
	logger *zap.Logger
}

func defaultProviderClient(logger *zap.Logger) ProviderClient {
	return &comProviderClient{logger: logger}
}

// initializeCOM enters an apartment-threaded COM context, returning the
// matching teardown.
func initializeCOM() (func(), error) {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		var oleErr *ole.OleError
		if !errors.As(err, &oleErr) || oleErr.Code() != comFalse {
			return nil, fmt.Errorf("failed to initialize COM: %w", err)
		}
	}
	return ole.CoUninitialize, nil
}

// createDispatch instantiates a COM automation object by ProgID.
func createDispatch(progID string) (*ole.IDispatch, error) {
	unknown, err := oleutil.CreateObject(progID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", progID, err)
	}
	defer unknown.Release()

	disp, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s dispatch interface: %w", progID, err)
	}
	return disp, nil
}

func stringProperty(disp *ole.IDispatch, name string) (string, error) {
	v, err := oleutil.GetProperty(disp, name)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	defer v.Clear()
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("property %s is not a string", name)
	}
	return s, nil
}

func timeProperty(disp *ole.IDispatch, name string) (time.Time, error) {
	v, err := oleutil.GetProperty(disp, name)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	defer v.Clear()
	t, ok := v.Value().(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("property %s is not a date", name)
	}
	return t.UTC(), nil
}

func boolProperty(disp *ole.IDispatch, name string) bool {
	v, err := oleutil.GetProperty(disp, name)
	if err != nil {
		return false
	}
	defer v.Clear()
	b, ok := v.Value().(bool)
	return ok && b
}

// ListCertificates merges the CurrentUser and LocalMachine "My" stores.
func (c *comProviderClient) ListCertificates() ([]StoreCertificate, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	uninit, err := initializeCOM()
	if err != nil {
		return nil, err
	}
	defer uninit()

	var out []StoreCertificate
	for _, location := range []int{capicomCurrentUserStore, capicomLocalMachineStore} {
		certs, err := c.collectStore(location)
		if err != nil {
			var pe *ProviderError
			if errors.As(err, &pe) {
				return nil, err
			}
			c.logger.Warn("failed to read certificate store",
				zap.Int("location", location), zap.Error(err))
			continue
		}
		out = append(out, certs...)
	}
	return out, nil
}

// collectStore reads every certificate from one store location.
func (c *comProviderClient) collectStore(location int) ([]StoreCertificate, error) {
	store, err := createDispatch("CAdESCOM.Store")
	if err != nil {
		if pe := classifyNotRegistered(err); pe != nil {
			return nil, pe
		}
		return nil, err
	}
	defer store.Release()

	if _, err := oleutil.CallMethod(store, "Open", location, capicomMyStore, capicomStoreOpenReadOnly); err != nil {
		return nil, &ProviderError{Hint: hintStoreOpenFailed, Err: err}
	}
	defer oleutil.CallMethod(store, "Close")

	certsVar, err := oleutil.GetProperty(store, "Certificates")
	if err != nil {
		return nil, fmt.Errorf("failed to read store certificates: %w", err)
	}
	certs := certsVar.ToIDispatch()
	defer certs.Release()

	countVar, err := oleutil.GetProperty(certs, "Count")
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate count: %w", err)
	}
	count := int(countVar.Val)

	now := time.Now().UTC()
	out := make([]StoreCertificate, 0, count)
	for i := 1; i <= count; i++ {
		itemVar, err := oleutil.CallMethod(certs, "Item", i)
		if err != nil {
			c.logger.Warn("failed to fetch store certificate", zap.Int("index", i), zap.Error(err))
			continue
		}
		item := itemVar.ToIDispatch()
		summary, err := readStoreCertificate(item, now)
		item.Release()
		if err != nil {
			c.logger.Warn("failed to parse store certificate", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, summary)
	}
	return out, nil
}

func readStoreCertificate(cert *ole.IDispatch, now time.Time) (StoreCertificate, error) {
	subject, err := stringProperty(cert, "SubjectName")
	if err != nil {
		return StoreCertificate{}, err
	}
	issuer, err := stringProperty(cert, "IssuerName")
	if err != nil {
		return StoreCertificate{}, err
	}
	thumbprint, err := stringProperty(cert, "Thumbprint")
	if err != nil {
		return StoreCertificate{}, err
	}
	notBefore, err := timeProperty(cert, "ValidFromDate")
	if err != nil {
		return StoreCertificate{}, err
	}
	notAfter, err := timeProperty(cert, "ValidToDate")
	if err != nil {
		return StoreCertificate{}, err
	}
	serial, err := stringProperty(cert, "SerialNumber")
	if err != nil {
		return StoreCertificate{}, err
	}

	return StoreCertificate{
		SerialNumber:  serial,
		Subject:       subject,
		Issuer:        issuer,
		NotBefore:     notBefore,
		NotAfter:      notAfter,
		Thumbprint:    NormalizeThumbprint(thumbprint),
		HasPrivateKey: boolProperty(cert, "HasPrivateKey"),
		IsValid:       !now.Before(notBefore) && !now.After(notAfter),
	}, nil
}

// findCertificate locates a store certificate by SHA-1 thumbprint.
func (c *comProviderClient) findCertificate(store *ole.IDispatch, thumbprint string) (*ole.IDispatch, error) {
	certsVar, err := oleutil.GetProperty(store, "Certificates")
	if err != nil {
		return nil, fmt.Errorf("failed to read store certificates: %w", err)
	}
	certs := certsVar.ToIDispatch()
	defer certs.Release()

	foundVar, err := oleutil.CallMethod(certs, "Find", capicomFindSHA1Hash, NormalizeThumbprint(thumbprint))
	if err != nil {
		return nil, fmt.Errorf("certificate search failed: %w", err)
	}
	found := foundVar.ToIDispatch()
	defer found.Release()

	countVar, err := oleutil.GetProperty(found, "Count")
	if err != nil {
		return nil, fmt.Errorf("failed to read search result count: %w", err)
	}
	if int(countVar.Val) == 0 {
		return nil, &ProviderError{
			Hint: fmt.Sprintf("Сертификат с отпечатком %s не найден в хранилище", thumbprint),
			Err:  ErrCertificateNotFound,
		}
	}

	itemVar, err := oleutil.CallMethod(found, "Item", 1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch found certificate: %w", err)
	}
	return itemVar.ToIDispatch(), nil
}

// Sign produces a CAdES-BES signature over the document through
// CadesSignedData. The document travels to the provider base64-encoded
// and the signature comes back the same way.
func (c *comProviderClient) Sign(document []byte, thumbprint string, detached bool) ([]byte, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	uninit, err := initializeCOM()
	if err != nil {
		return nil, err
	}
	defer uninit()

	store, err := createDispatch("CAdESCOM.Store")
	if err != nil {
		if pe := classifyNotRegistered(err); pe != nil {
			return nil, pe
		}
		return nil, err
	}
	defer store.Release()

	if _, err := oleutil.CallMethod(store, "Open", capicomCurrentUserStore, capicomMyStore, capicomStoreOpenMaximumAllowed); err != nil {
		return nil, &ProviderError{Hint: hintStoreOpenFailed, Err: err}
	}
	defer oleutil.CallMethod(store, "Close")

	cert, err := c.findCertificate(store, thumbprint)
	if err != nil {
		return nil, err
	}
	defer cert.Release()

	signer, err := createDispatch("CAdESCOM.CPSigner")
	if err != nil {
		if pe := classifyNotRegistered(err); pe != nil {
			return nil, pe
		}
		return nil, &ProviderError{Hint: hintSignerPrep, Err: err}
	}
	defer signer.Release()

	if _, err := oleutil.PutProperty(signer, "Certificate", cert); err != nil {
		return nil, &ProviderError{Hint: hintSignerPrep, Err: err}
	}

	signedData, err := createDispatch("CAdESCOM.CadesSignedData")
	if err != nil {
		if pe := classifyNotRegistered(err); pe != nil {
			return nil, pe
		}
		return nil, &ProviderError{Hint: hintSignedData, Err: err}
	}
	defer signedData.Release()

	if _, err := oleutil.PutProperty(signedData, "ContentEncoding", cadescomBase64ToBinary); err != nil {
		return nil, &ProviderError{Hint: hintSignedData, Err: err}
	}
	if _, err := oleutil.PutProperty(signedData, "Content", base64.StdEncoding.EncodeToString(document)); err != nil {
		return nil, &ProviderError{Hint: hintSignedData, Err: err}
	}

	sigVar, err := oleutil.CallMethod(signedData, "SignCades", signer, cadescomCadesBES, detached, cadescomEncodeBase64)
	if err != nil {
		return nil, err
	}
	defer sigVar.Clear()

	encoded, ok := sigVar.Value().(string)
	if !ok {
		return nil, fmt.Errorf("unexpected SignCades result type")
	}

	// CAdESCOM wraps the base64 output in CRLF line breaks.
	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(encoded)
	der, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to decode provider signature: %w", err)
	}
	return der, nil
}
